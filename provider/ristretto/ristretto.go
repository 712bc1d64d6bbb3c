// Package ristretto decorates a provider with an in-process read cache.
//
// The cache is write-through: Put stores in the inner provider first and
// then caches the item; Delete and Clear invalidate. Reads that miss the
// cache go to the inner provider and are not cached, so a value only enters
// the cache through a write that went through this decorator.
package ristretto

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/udstore/provider"
)

type Provider struct {
	inner pr.Provider
	c     *rc.Cache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes
	BufferItems int64
	Metrics     bool
}

// DefaultConfig suits a cache of roughly 64MB.
func DefaultConfig() Config {
	return Config{NumCounters: 1e6, MaxCost: 64 << 20, BufferItems: 64}
}

func New(inner pr.Provider, cfg Config) (*Provider, error) {
	if inner == nil {
		return nil, errors.New("ristretto: nil inner provider")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{inner: inner, c: c}, nil
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Capabilities() pr.Capabilities { return p.inner.Capabilities() }

func cacheKey(ns, key string) string { return ns + "\x00" + key }

func (p *Provider) Get(ctx context.Context, ns, key string) (pr.Item, bool, error) {
	if v, ok := p.c.Get(cacheKey(ns, key)); ok {
		if it, ok := v.(pr.Item); ok {
			return clone(it), true, nil
		}
		// self-heal: drop unexpected entry shape
		p.c.Del(cacheKey(ns, key))
	}
	return p.inner.Get(ctx, ns, key)
}

func (p *Provider) Put(ctx context.Context, ns, key string, it pr.Item) error {
	ck := cacheKey(ns, key)
	if err := p.inner.Put(ctx, ns, key, it); err != nil {
		p.c.Del(ck)
		return err
	}
	p.c.Set(ck, clone(it), it.Size()+int64(len(ck)))
	return nil
}

func (p *Provider) Delete(ctx context.Context, ns, key string) error {
	p.c.Del(cacheKey(ns, key))
	// a buffered Set of the same key must not resurface after this returns
	p.c.Wait()
	return p.inner.Delete(ctx, ns, key)
}

func (p *Provider) Keys(ctx context.Context, ns string) ([]string, error) {
	return p.inner.Keys(ctx, ns)
}

// Clear drops the whole cache; ristretto cannot invalidate by prefix.
func (p *Provider) Clear(ctx context.Context, ns string) error {
	p.c.Clear()
	return p.inner.Clear(ctx, ns)
}

func (p *Provider) Close(ctx context.Context) error {
	p.c.Wait()
	p.c.Close()
	return p.inner.Close(ctx)
}

// Wait blocks until buffered cache writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }

// Unwrap returns the decorated provider.
func (p *Provider) Unwrap() pr.Provider { return p.inner }

func clone(it pr.Item) pr.Item {
	out := pr.Item{Value: append([]byte(nil), it.Value...)}
	if it.Value != nil && out.Value == nil {
		out.Value = []byte{}
	}
	if it.Meta != nil {
		out.Meta = append([]byte(nil), it.Meta...)
	}
	return out
}
