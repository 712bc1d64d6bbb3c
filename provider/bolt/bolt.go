// Package bolt is the durable synchronous provider backed by a bbolt file.
//
// All namespaces share one bucket; records are addressed by
// "<prefix><ns>:<key>" and listed with a prefix scan. A byte quota makes the
// store strictly capacity-limited like the browser storage it stands in for.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
)

var bucketRecords = []byte("records")

type Provider struct {
	db     *bbolt.DB
	prefix string
	quota  *pr.Quota
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Path string
	// MaxBytes caps the sum of stored keys and values. 0 = unlimited.
	MaxBytes int64
	Prefix   string        // default "uds:"
	Timeout  time.Duration // file lock timeout, default 1s
	// NoSync disables fsync per transaction. Tests only.
	NoSync bool
}

func Open(cfg Config) (*Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("bolt: opening %s: %w", cfg.Path, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = util.DefaultPrefix
	}
	p := &Provider{db: db, prefix: prefix, quota: pr.NewQuota(cfg.MaxBytes)}

	var used int64
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketRecords)
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketRecords, err)
		}
		return b.ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.quota.Reset(used)
	return p, nil
}

func (p *Provider) Name() string { return "bolt" }

func (p *Provider) Capabilities() pr.Capabilities {
	return pr.Capabilities{Durable: true, MaxValueSize: p.quota.Limit()}
}

// Used reports the bytes currently accounted against the quota.
func (p *Provider) Used() int64 { return p.quota.Used() }

func (p *Provider) Get(_ context.Context, ns, key string) (pr.Item, bool, error) {
	var out []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get([]byte(util.StorageKey(p.prefix, ns, key)))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil || out == nil {
		return pr.Item{}, false, err
	}
	return pr.Item{Value: out}, true, nil
}

func (p *Provider) Put(_ context.Context, ns, key string, it pr.Item) error {
	sk := []byte(util.StorageKey(p.prefix, ns, key))
	newSize := int64(len(sk) + len(it.Value))
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		var oldSize int64
		if v := b.Get(sk); v != nil {
			oldSize = int64(len(sk) + len(v))
		}
		if err := p.quota.Reserve(oldSize, newSize); err != nil {
			return err
		}
		value := it.Value
		if value == nil {
			value = []byte{}
		}
		if err := b.Put(sk, value); err != nil {
			// roll the reservation back
			_ = p.quota.Reserve(newSize, oldSize)
			return err
		}
		return nil
	})
}

func (p *Provider) Delete(_ context.Context, ns, key string) error {
	sk := []byte(util.StorageKey(p.prefix, ns, key))
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		v := b.Get(sk)
		if v == nil {
			return nil
		}
		size := int64(len(sk) + len(v))
		if err := b.Delete(sk); err != nil {
			return err
		}
		p.quota.Release(size)
		return nil
	})
}

func (p *Provider) Keys(_ context.Context, ns string) ([]string, error) {
	prefix := []byte(util.NamespacePrefix(p.prefix, ns))
	var keys []string
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, string(k[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

func (p *Provider) Clear(_ context.Context, ns string) error {
	prefix := []byte(util.NamespacePrefix(p.prefix, ns))
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		var (
			doomed [][]byte
			freed  int64
		)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			doomed = append(doomed, append([]byte(nil), k...))
			freed += int64(len(k) + len(v))
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		p.quota.Release(freed)
		return nil
	})
}

func (p *Provider) Close(context.Context) error {
	return p.db.Close()
}
