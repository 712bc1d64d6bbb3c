package udstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/provider/bolt"
)

func openBolt(t *testing.T) *bolt.Provider {
	t.Helper()
	p, err := bolt.Open(bolt.Config{Path: filepath.Join(t.TempDir(), "uds.db"), NoSync: true})
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	return p
}

func TestNamespaceNameWithSeparatorRejected(t *testing.T) {
	p := openBolt(t)
	defer p.Close(context.Background())
	_, err := newStore(Options{
		Backends:      map[string]pr.Provider{BackendDurable: p},
		Namespaces:    []Namespace{{Name: "a"}, {Name: "a:b"}},
		SweepInterval: -1,
	})
	if err == nil || !strings.Contains(err.Error(), `"a:b"`) {
		t.Fatalf("newStore = %v, want rejection of a:b", err)
	}
}

func TestNamespacesIsolatedOnFlatKeys(t *testing.T) {
	p := openBolt(t)
	e := newEnv(t, func(o *Options) {
		o.Backends = map[string]pr.Provider{BackendDurable: p}
		o.Namespaces = []Namespace{{Name: "a"}, {Name: "ab"}, {Name: "b"}}
	})
	ctx := context.Background()

	mustSet(t, e.s, "a", "b:k", smallProfile)
	mustSet(t, e.s, "ab", "k", smallProfile)
	mustSet(t, e.s, "b", "k", smallProfile)

	got, err := e.s.Query(ctx, "a", Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var keys []string
	for _, en := range got {
		keys = append(keys, en.Key)
	}
	if diff := cmp.Diff([]string{"b:k"}, keys); diff != "" {
		t.Fatalf("keys of a (-want +got):\n%s", diff)
	}

	if err := e.s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, ns := range []string{"ab", "b"} {
		ok, err := e.s.Exists(ctx, ns, "k")
		if err != nil || !ok {
			t.Fatalf("Exists(%s, k) = %v, %v after clearing a", ns, ok, err)
		}
	}
	if ok, _ := e.s.Exists(ctx, "a", "b:k"); ok {
		t.Fatalf("a/b:k survived Clear")
	}
}
