package udstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	pr "github.com/unkn0wn-root/udstore/provider"
)

func TestStatsClassifiesStoredRecords(t *testing.T) {
	e := newEnv(t, nil)
	mustSet(t, e.s, "settings", "plain", 1)
	mustSet(t, e.s, "settings", "sealed", 2, WithEncrypt(true))
	mustSet(t, e.s, "settings", "big", bigProfile)
	mustSet(t, e.s, "settings", "short", 3, WithTTL(time.Minute))
	putRaw(t, e.durable, "settings", "legacy", pr.Item{Value: []byte(`{"old":true}`)})
	putRaw(t, e.durable, "settings", "junk", pr.Item{Value: []byte(`{`)})
	mustSet(t, e.s, "jobs", "j", 1)
	e.clock.Advance(time.Hour)

	st, err := e.s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Usage{Records: 6, Expired: 1, Encrypted: 1, Compressed: 1, Legacy: 1, Unreadable: 1}
	ignoreBytes := cmpopts.IgnoreFields(Usage{}, "Bytes")
	if diff := cmp.Diff(want, st.Namespaces["settings"], ignoreBytes); diff != "" {
		t.Fatalf("settings usage (-want +got):\n%s", diff)
	}
	if st.Namespaces["settings"].Bytes == 0 {
		t.Fatalf("bytes not counted")
	}
	if st.Total.Records != 7 || st.Backends[BackendStructured].Records != 1 {
		t.Fatalf("totals: %+v", st)
	}
	if !st.EncryptionEnabled {
		t.Fatalf("EncryptionEnabled = false")
	}

	// Stats only observes
	if e.durable.Len("settings") != 6 {
		t.Fatalf("Stats changed stored records")
	}

	only, err := e.s.Stats(context.Background(), "jobs")
	if err != nil {
		t.Fatalf("Stats(jobs): %v", err)
	}
	if only.Total.Records != 1 || len(only.Namespaces) != 1 {
		t.Fatalf("filtered stats: %+v", only)
	}
}
