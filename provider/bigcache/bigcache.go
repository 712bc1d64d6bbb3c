// Package bigcache is the ephemeral synchronous provider. Values live in a
// BigCache instance; a btree of storage keys makes namespaces listable,
// which BigCache alone cannot do.
package bigcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/tidwall/btree"

	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
)

type Provider struct {
	c      *bc.BigCache
	prefix string
	quota  *pr.Quota

	mu   sync.Mutex
	keys *btree.Map[string, int64] // storage key -> accounted size
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// LifeWindow bounds how long BigCache keeps an entry regardless of the
	// record's own ttl. Default 24h.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int   // ~ memory limit; 0 = unlimited
	MaxBytes           int64 // logical quota over keys+values; 0 = unlimited
	Prefix             string
}

func New(cfg Config) (*Provider, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	// DefaultConfig sizes shards for 600k entries, far more than a session cache holds.
	conf.MaxEntriesInWindow = 10_000
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = util.DefaultPrefix
	}
	return &Provider{
		c:      c,
		prefix: prefix,
		quota:  pr.NewQuota(cfg.MaxBytes),
		keys:   btree.NewMap[string, int64](0),
	}, nil
}

func (p *Provider) Name() string { return "bigcache" }

func (p *Provider) Capabilities() pr.Capabilities {
	return pr.Capabilities{MaxValueSize: p.quota.Limit()}
}

func (p *Provider) Get(_ context.Context, ns, key string) (pr.Item, bool, error) {
	sk := util.StorageKey(p.prefix, ns, key)
	b, err := p.c.Get(sk)
	if errors.Is(err, bc.ErrEntryNotFound) {
		p.forget(sk)
		return pr.Item{}, false, nil
	}
	if err != nil {
		return pr.Item{}, false, err
	}
	return pr.Item{Value: b}, true, nil
}

func (p *Provider) Put(_ context.Context, ns, key string, it pr.Item) error {
	sk := util.StorageKey(p.prefix, ns, key)
	size := int64(len(sk) + len(it.Value))

	p.mu.Lock()
	defer p.mu.Unlock()
	old, _ := p.keys.Get(sk)
	if err := p.quota.Reserve(old, size); err != nil {
		return err
	}
	if err := p.c.Set(sk, it.Value); err != nil {
		_ = p.quota.Reserve(size, old)
		if strings.Contains(err.Error(), "bigger than max shard size") {
			return errors.Join(pr.ErrCapacityExceeded, err)
		}
		return err
	}
	p.keys.Set(sk, size)
	return nil
}

func (p *Provider) Delete(_ context.Context, ns, key string) error {
	sk := util.StorageKey(p.prefix, ns, key)
	err := p.c.Delete(sk)
	if err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	p.forget(sk)
	return nil
}

// Keys lists indexed keys of ns. Entries BigCache evicted on its own are
// pruned from the index on the way.
func (p *Provider) Keys(_ context.Context, ns string) ([]string, error) {
	var keys []string
	for _, sk := range p.scan(ns) {
		if _, err := p.c.Get(sk); errors.Is(err, bc.ErrEntryNotFound) {
			p.forget(sk)
			continue
		}
		if k, ok := util.TrimNamespace(p.prefix, ns, sk); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (p *Provider) Clear(_ context.Context, ns string) error {
	for _, sk := range p.scan(ns) {
		if err := p.c.Delete(sk); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return err
		}
		p.forget(sk)
	}
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}

func (p *Provider) scan(ns string) []string {
	prefix := util.NamespacePrefix(p.prefix, ns)
	var out []string
	p.mu.Lock()
	p.keys.Ascend(prefix, func(sk string, _ int64) bool {
		if !strings.HasPrefix(sk, prefix) {
			return false
		}
		out = append(out, sk)
		return true
	})
	p.mu.Unlock()
	return out
}

func (p *Provider) forget(sk string) {
	p.mu.Lock()
	if size, ok := p.keys.Delete(sk); ok {
		p.quota.Release(size)
	}
	p.mu.Unlock()
}
