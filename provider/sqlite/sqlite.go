// Package sqlite is the structured provider: one table per namespace with the
// metadata kept in its own column next to the payload.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
)

const tablePrefix = "uds_"

type Provider struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]string // namespace -> table, created ones only
}

var _ pr.Provider = (*Provider)(nil)

// Open opens (or creates) the database at path. ":memory:" keeps everything
// in a single in-memory connection.
func Open(path string) (*Provider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	return &Provider{db: db, tables: make(map[string]string)}, nil
}

func (p *Provider) Name() string { return "sqlite" }

func (p *Provider) Capabilities() pr.Capabilities {
	return pr.Capabilities{SeparateMetadata: true, Durable: true}
}

// table returns the quoted table name of ns, creating the table on first use.
func (p *Provider) table(ctx context.Context, ns string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tables[ns]; ok {
		return t, nil
	}
	t := `"` + util.Identifier(tablePrefix, ns) + `"`
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		meta BLOB,
		updated_at INTEGER NOT NULL
	)`, t)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("sqlite: creating table for %q: %w", ns, err)
	}
	p.tables[ns] = t
	return t, nil
}

func (p *Provider) Get(ctx context.Context, ns, key string) (pr.Item, bool, error) {
	t, err := p.table(ctx, ns)
	if err != nil {
		return pr.Item{}, false, err
	}
	var it pr.Item
	err = p.db.QueryRowContext(ctx, "SELECT value, meta FROM "+t+" WHERE key = ?", key).Scan(&it.Value, &it.Meta)
	if errors.Is(err, sql.ErrNoRows) {
		return pr.Item{}, false, nil
	}
	if err != nil {
		return pr.Item{}, false, err
	}
	if it.Value == nil {
		it.Value = []byte{}
	}
	if len(it.Meta) == 0 {
		it.Meta = nil
	}
	return it, true, nil
}

func (p *Provider) Put(ctx context.Context, ns, key string, it pr.Item) error {
	t, err := p.table(ctx, ns)
	if err != nil {
		return err
	}
	value := it.Value
	if value == nil {
		value = []byte{}
	}
	_, err = p.db.ExecContext(ctx,
		"INSERT INTO "+t+" (key, value, meta, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, meta = excluded.meta, updated_at = excluded.updated_at",
		key, value, it.Meta, time.Now().UnixMilli())
	if isFull(err) {
		return errors.Join(pr.ErrCapacityExceeded, err)
	}
	return err
}

func (p *Provider) Delete(ctx context.Context, ns, key string) error {
	t, err := p.table(ctx, ns)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "DELETE FROM "+t+" WHERE key = ?", key)
	return err
}

func (p *Provider) Keys(ctx context.Context, ns string) ([]string, error) {
	t, err := p.table(ctx, ns)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, "SELECT key FROM "+t+" ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *Provider) Clear(ctx context.Context, ns string) error {
	t, err := p.table(ctx, ns)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "DELETE FROM "+t)
	return err
}

func (p *Provider) Close(context.Context) error {
	return p.db.Close()
}

// SQLITE_FULL surfaces as "database or disk is full".
func isFull(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database or disk is full")
}
