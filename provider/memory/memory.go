// Package memory is an in-process provider. It can act as either a flat or
// a structured store, which makes it the default stand-in for tests and for
// deployments that need no persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	pr "github.com/unkn0wn-root/udstore/provider"
)

type Config struct {
	Name             string // default "memory"
	SeparateMetadata bool
	MaxBytes         int64 // 0 = unlimited
}

type Provider struct {
	name  string
	caps  pr.Capabilities
	quota *pr.Quota

	mu   sync.RWMutex
	data map[string]map[string]pr.Item
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "memory"
	}
	return &Provider{
		name:  name,
		caps:  pr.Capabilities{SeparateMetadata: cfg.SeparateMetadata, MaxValueSize: cfg.MaxBytes},
		quota: pr.NewQuota(cfg.MaxBytes),
		data:  make(map[string]map[string]pr.Item),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Capabilities() pr.Capabilities { return p.caps }

func (p *Provider) Get(_ context.Context, ns, key string) (pr.Item, bool, error) {
	p.mu.RLock()
	it, ok := p.data[ns][key]
	p.mu.RUnlock()
	if !ok {
		return pr.Item{}, false, nil
	}
	return copyItem(it), true, nil
}

func (p *Provider) Put(_ context.Context, ns, key string, it pr.Item) error {
	it = copyItem(it)
	if !p.caps.SeparateMetadata {
		it.Meta = nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.data[ns]
	if bucket == nil {
		bucket = make(map[string]pr.Item)
		p.data[ns] = bucket
	}
	var old int64
	if prev, ok := bucket[key]; ok {
		old = prev.Size() + int64(len(key))
	}
	if err := p.quota.Reserve(old, it.Size()+int64(len(key))); err != nil {
		return err
	}
	bucket[key] = it
	return nil
}

func (p *Provider) Delete(_ context.Context, ns, key string) error {
	p.mu.Lock()
	if prev, ok := p.data[ns][key]; ok {
		delete(p.data[ns], key)
		p.quota.Release(prev.Size() + int64(len(key)))
	}
	p.mu.Unlock()
	return nil
}

func (p *Provider) Keys(_ context.Context, ns string) ([]string, error) {
	p.mu.RLock()
	keys := make([]string, 0, len(p.data[ns]))
	for k := range p.data[ns] {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (p *Provider) Clear(_ context.Context, ns string) error {
	p.mu.Lock()
	for k, it := range p.data[ns] {
		p.quota.Release(it.Size() + int64(len(k)))
	}
	delete(p.data, ns)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Close(context.Context) error { return nil }

// Len returns the number of records in ns.
func (p *Provider) Len(ns string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data[ns])
}

func copyItem(it pr.Item) pr.Item {
	out := pr.Item{Value: append([]byte{}, it.Value...)}
	if it.Meta != nil {
		out.Meta = append([]byte{}, it.Meta...)
	}
	return out
}
