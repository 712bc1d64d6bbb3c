package bigcache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/unkn0wn-root/udstore/internal/providertest"
	"github.com/unkn0wn-root/udstore/provider"
)

func TestContract(t *testing.T) {
	providertest.Run(t, func(t *testing.T) provider.Provider {
		p, err := New(Config{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return p
	})
}

func TestQuotaAndRelease(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{MaxBytes: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	big := provider.Item{Value: []byte(strings.Repeat("v", 80))}
	if err := p.Put(ctx, "cache", "a", big); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := p.Put(ctx, "cache", "b", big); !errors.Is(err, provider.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := p.Delete(ctx, "cache", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.Put(ctx, "cache", "b", big); err != nil {
		t.Fatalf("put after delete: %v", err)
	}
}
