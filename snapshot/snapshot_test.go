package snapshot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sample(t *testing.T) *Document {
	t.Helper()
	d := New(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	d.Add("jobs", Entry{Key: "a", Value: json.RawMessage(`{"score":1}`), TTL: 5000, Version: 2, Backend: "structured"})
	d.Add("jobs", Entry{Key: "b", Value: json.RawMessage(`"x"`)})
	d.Touch("settings")
	return d
}

func TestMarshalParseRoundTrip(t *testing.T) {
	d := sample(t)
	b, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if got.Len() != 2 {
		t.Fatalf("Len = %d", got.Len())
	}
	if diff := cmp.Diff([]string{"jobs", "settings"}, got.Names()); diff != "" {
		t.Fatalf("Names (-want +got):\n%s", diff)
	}
	if got.Namespaces["jobs"][0].Lifetime() != 5*time.Second {
		t.Fatalf("Lifetime = %v", got.Namespaces["jobs"][0].Lifetime())
	}
}

func TestParseRejects(t *testing.T) {
	valid, err := sample(t).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		if err := json.Unmarshal(valid, &m); err != nil {
			t.Fatal(err)
		}
		f(m)
		b, _ := json.Marshal(m)
		return b
	}
	entries := func(m map[string]any) []any {
		return m["namespaces"].(map[string]any)["jobs"].([]any)
	}

	cases := map[string][]byte{
		"not json":      []byte("{"),
		"wrong format":  mutate(func(m map[string]any) { m["format"] = "other" }),
		"future":        mutate(func(m map[string]any) { m["version"] = Version + 1 }),
		"no version":    mutate(func(m map[string]any) { delete(m, "version") }),
		"no timestamp":  mutate(func(m map[string]any) { delete(m, "createdAt") }),
		"no namespaces": mutate(func(m map[string]any) { delete(m, "namespaces") }),
		"bad id":        mutate(func(m map[string]any) { m["id"] = "nope" }),
		"empty key": mutate(func(m map[string]any) {
			entries(m)[0].(map[string]any)["key"] = ""
		}),
		"negative ttl": mutate(func(m map[string]any) {
			entries(m)[0].(map[string]any)["ttl"] = -1
		}),
		"missing value": mutate(func(m map[string]any) {
			delete(entries(m)[1].(map[string]any), "value")
		}),
		"duplicate key": mutate(func(m map[string]any) {
			e := entries(m)
			e[1].(map[string]any)["key"] = "a"
			e[1].(map[string]any)["backend"] = "structured"
		}),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(b); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSameKeyOnDifferentBackends(t *testing.T) {
	d := New(time.Now())
	d.Add("jobs", Entry{Key: "a", Value: json.RawMessage(`1`), Backend: "durable"})
	d.Add("jobs", Entry{Key: "a", Value: json.RawMessage(`2`), Backend: "structured"})
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestIDsAreUnique(t *testing.T) {
	a, b := New(time.Now()), New(time.Now())
	if a.ID == b.ID || !strings.Contains(a.ID, "-") {
		t.Fatalf("ids %q %q", a.ID, b.ID)
	}
}
