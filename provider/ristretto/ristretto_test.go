package ristretto

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/udstore/internal/providertest"
	"github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/provider/memory"
)

func newTest(t *testing.T, inner provider.Provider) *Provider {
	t.Helper()
	p, err := New(inner, Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestContract(t *testing.T) {
	providertest.Run(t, func(t *testing.T) provider.Provider {
		return newTest(t, memory.New(memory.Config{SeparateMetadata: true}))
	})
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(memory.New(memory.Config{}), Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil inner")
	}
}

func TestServesFromCacheAndInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(memory.Config{})
	p := newTest(t, inner)
	defer p.Close(ctx)

	if err := p.Put(ctx, "ns", "k", provider.Item{Value: []byte("v1")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.Wait()

	// remove behind the decorator's back; the cached copy still answers
	_ = inner.Delete(ctx, "ns", "k")
	it, ok, err := p.Get(ctx, "ns", "k")
	if err != nil || !ok || string(it.Value) != "v1" {
		t.Fatalf("expected cached hit, ok=%v err=%v value=%q", ok, err, it.Value)
	}

	// mutating the returned slice must not poison the cache
	it.Value[0] = 'X'
	again, _, _ := p.Get(ctx, "ns", "k")
	if string(again.Value) != "v1" {
		t.Fatalf("cache entry was mutated: %q", again.Value)
	}

	if err := p.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "ns", "k"); ok {
		t.Fatalf("expected miss after Delete")
	}
}
