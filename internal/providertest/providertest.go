// Package providertest is a contract suite shared by every provider
// implementation's tests.
package providertest

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/udstore/provider"
)

// Factory returns a fresh, empty provider. The suite closes it.
type Factory func(t *testing.T) provider.Provider

// Run exercises the Provider contract against fresh instances from newProvider.
func Run(t *testing.T, newProvider Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, ctx context.Context, p provider.Provider)
	}{
		{"GetMiss", testGetMiss},
		{"PutGet", testPutGet},
		{"Overwrite", testOverwrite},
		{"Delete", testDelete},
		{"KeysSortedAndIsolated", testKeys},
		{"ClearIsolated", testClear},
		{"AwkwardKeys", testAwkwardKeys},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProvider(t)
			ctx := context.Background()
			t.Cleanup(func() { _ = p.Close(ctx) })
			tc.fn(t, ctx, p)
		})
	}
}

func item(p provider.Provider, value, meta string) provider.Item {
	it := provider.Item{Value: []byte(value)}
	if p.Capabilities().SeparateMetadata {
		it.Meta = []byte(meta)
	}
	return it
}

func mustPut(t *testing.T, ctx context.Context, p provider.Provider, ns, key string, it provider.Item) {
	t.Helper()
	if err := p.Put(ctx, ns, key, it); err != nil {
		t.Fatalf("Put(%q,%q): %v", ns, key, err)
	}
}

func mustGet(t *testing.T, ctx context.Context, p provider.Provider, ns, key string) (provider.Item, bool) {
	t.Helper()
	it, ok, err := p.Get(ctx, ns, key)
	if err != nil {
		t.Fatalf("Get(%q,%q): %v", ns, key, err)
	}
	return it, ok
}

func mustKeys(t *testing.T, ctx context.Context, p provider.Provider, ns string) []string {
	t.Helper()
	keys, err := p.Keys(ctx, ns)
	if err != nil {
		t.Fatalf("Keys(%q): %v", ns, err)
	}
	return keys
}

func testGetMiss(t *testing.T, ctx context.Context, p provider.Provider) {
	if _, ok := mustGet(t, ctx, p, "ns", "nope"); ok {
		t.Fatalf("expected miss on empty store")
	}
}

func testPutGet(t *testing.T, ctx context.Context, p provider.Provider) {
	want := item(p, "{\"a\":1}\x00\xff", `{"version":1}`)
	mustPut(t, ctx, p, "ns", "k", want)

	got, ok := mustGet(t, ctx, p, "ns", "k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if !bytes.Equal(got.Value, want.Value) {
		t.Fatalf("value mismatch: got %q want %q", got.Value, want.Value)
	}
	if !bytes.Equal(got.Meta, want.Meta) {
		t.Fatalf("meta mismatch: got %q want %q", got.Meta, want.Meta)
	}
}

func testOverwrite(t *testing.T, ctx context.Context, p provider.Provider) {
	mustPut(t, ctx, p, "ns", "k", item(p, "first", `{"v":1}`))
	mustPut(t, ctx, p, "ns", "k", item(p, "second", `{"v":2}`))

	got, ok := mustGet(t, ctx, p, "ns", "k")
	if !ok || string(got.Value) != "second" {
		t.Fatalf("overwrite not applied: ok=%v value=%q", ok, got.Value)
	}
	if keys := mustKeys(t, ctx, p, "ns"); len(keys) != 1 {
		t.Fatalf("overwrite duplicated key: %v", keys)
	}
}

func testDelete(t *testing.T, ctx context.Context, p provider.Provider) {
	mustPut(t, ctx, p, "ns", "k", item(p, "v", "{}"))
	if err := p.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := mustGet(t, ctx, p, "ns", "k"); ok {
		t.Fatalf("expected miss after delete")
	}
	if err := p.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete of missing key should succeed, got %v", err)
	}
}

func testKeys(t *testing.T, ctx context.Context, p provider.Provider) {
	for _, k := range []string{"c", "a", "b"} {
		mustPut(t, ctx, p, "one", k, item(p, k, "{}"))
	}
	mustPut(t, ctx, p, "two", "z", item(p, "z", "{}"))
	mustPut(t, ctx, p, "one-more", "x", item(p, "x", "{}"))

	if diff := cmp.Diff([]string{"a", "b", "c"}, mustKeys(t, ctx, p, "one")); diff != "" {
		t.Fatalf("Keys(one) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"z"}, mustKeys(t, ctx, p, "two")); diff != "" {
		t.Fatalf("Keys(two) mismatch (-want +got):\n%s", diff)
	}
	if keys := mustKeys(t, ctx, p, "empty"); len(keys) != 0 {
		t.Fatalf("Keys(empty) = %v, want none", keys)
	}
}

func testClear(t *testing.T, ctx context.Context, p provider.Provider) {
	mustPut(t, ctx, p, "one", "a", item(p, "a", "{}"))
	mustPut(t, ctx, p, "one", "b", item(p, "b", "{}"))
	mustPut(t, ctx, p, "two", "a", item(p, "a", "{}"))

	if err := p.Clear(ctx, "one"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys := mustKeys(t, ctx, p, "one"); len(keys) != 0 {
		t.Fatalf("namespace not cleared: %v", keys)
	}
	if _, ok := mustGet(t, ctx, p, "two", "a"); !ok {
		t.Fatalf("Clear(one) removed a record of namespace two")
	}
	if err := p.Clear(ctx, "never-used"); err != nil {
		t.Fatalf("Clear of empty namespace: %v", err)
	}
}

func testAwkwardKeys(t *testing.T, ctx context.Context, p provider.Provider) {
	keys := []string{"a:b", "with space", "zażółć", "star*", "q?"}
	for _, k := range keys {
		mustPut(t, ctx, p, "ns", k, item(p, k, "{}"))
	}
	for _, k := range keys {
		got, ok := mustGet(t, ctx, p, "ns", k)
		if !ok || string(got.Value) != k {
			t.Fatalf("Get(%q): ok=%v value=%q", k, ok, got.Value)
		}
	}
	if got := mustKeys(t, ctx, p, "ns"); len(got) != len(keys) {
		t.Fatalf("Keys = %v, want %d entries", got, len(keys))
	}
}
