package udstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/udstore/codec"
	pr "github.com/unkn0wn-root/udstore/provider"
)

type job struct {
	Title   string         `json:"title"`
	Status  string         `json:"status"`
	Score   *int           `json:"score,omitempty"`
	Company map[string]any `json:"company,omitempty"`
}

func intp(i int) *int { return &i }

func seedJobs(t *testing.T, s Store) {
	t.Helper()
	scores := []int{5, 9, 1, 7, 3, 8, 2, 6, 4, 0}
	for i, sc := range scores {
		status := "applied"
		if i%3 == 0 {
			status = "rejected"
		}
		mustSet(t, s, "jobs", fmt.Sprintf("job-%02d", i), job{
			Title:   fmt.Sprintf("role %d", i),
			Status:  status,
			Score:   intp(sc),
			Company: map[string]any{"name": string(rune('a' + (9 - i)))},
		})
	}
	mustSet(t, s, "jobs", "job-unscored", job{Title: "unscored", Status: "applied"})
}

func queryKeys(t *testing.T, s Store, q Query) []string {
	t.Helper()
	entries, err := s.Query(context.Background(), "jobs", q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func TestQueryTopThreeByScore(t *testing.T) {
	e := newEnv(t, nil)
	seedJobs(t, e.s)
	got := queryKeys(t, e.s, Query{SortBy: "score", SortOrder: Desc, Limit: 3})
	if diff := cmp.Diff([]string{"job-01", "job-05", "job-03"}, got); diff != "" {
		t.Fatalf("top 3 (-want +got):\n%s", diff)
	}
}

func TestQueryFilterSortPaginate(t *testing.T) {
	e := newEnv(t, nil)
	seedJobs(t, e.s)

	applied := func(en Entry) bool {
		m, _ := en.Value.(map[string]any)
		return m["status"] == "applied"
	}

	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"key order", Query{Limit: 3}, []string{"job-00", "job-01", "job-02"}},
		{"filter", Query{Filter: applied, Offset: 4}, []string{"job-07", "job-08", "job-unscored"}},
		{"ascending, missing last", Query{SortBy: "score", Offset: 8}, []string{"job-05", "job-01", "job-unscored"}},
		{"descending, missing last", Query{SortBy: "score", SortOrder: Desc, Offset: 9}, []string{"job-09", "job-unscored"}},
		{"nested path", Query{SortBy: "company.name", Limit: 2}, []string{"job-09", "job-08"}},
		{"filter then sort", Query{Filter: applied, SortBy: "score", SortOrder: Desc, Limit: 2}, []string{"job-01", "job-05"}},
		{"offset past end", Query{Offset: 50}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, queryKeys(t, e.s, tc.q)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuerySkipsExpiredAndCorrupt(t *testing.T) {
	e := newEnv(t, nil)
	mustSet(t, e.s, "jobs", "live", job{Title: "live"})
	mustSet(t, e.s, "jobs", "short", job{Title: "short"}, WithTTL(time.Minute))
	mustSet(t, e.s, "jobs", "secret", job{Title: "secret"}, WithEncrypt(true))
	putRaw(t, e.structured, "jobs", "junk", pr.Item{Value: []byte("{"), Meta: []byte("{}")})

	rec := rawRecord(t, e.structured, "jobs", "secret")
	rec.Data[len(rec.Data)-1] ^= 0xff
	putRecord(t, e.structured, "jobs", "secret", rec)

	if diff := cmp.Diff([]string{"live", "short"}, queryKeys(t, e.s, Query{})); diff != "" {
		t.Fatalf("before expiry (-want +got):\n%s", diff)
	}
	e.clock.Advance(2 * time.Minute)
	if diff := cmp.Diff([]string{"live"}, queryKeys(t, e.s, Query{})); diff != "" {
		t.Fatalf("after expiry (-want +got):\n%s", diff)
	}
	// the query's reads removed the expired record lazily
	if _, ok, _ := e.structured.Get(context.Background(), "jobs", "short"); ok {
		t.Fatalf("expired record still stored")
	}
}

func TestQueryWithBinaryCodec(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.Codec = codec.Msgpack{} })
	seedJobs(t, e.s)
	got := queryKeys(t, e.s, Query{SortBy: "score", SortOrder: Desc, Limit: 3})
	if diff := cmp.Diff([]string{"job-01", "job-05", "job-03"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestCompareValues(t *testing.T) {
	cases := []struct {
		a, b any
		want int
	}{
		{float64(1), int64(2), -1},
		{uint8(3), float64(3), 0},
		{"b", "a", 1},
		{false, true, -1},
		{true, float64(0), -1}, // bools before numbers
		{float64(9), "a", -1},  // numbers before strings
		{"z", map[string]any{}, -1},
	}
	for _, tc := range cases {
		if got := compareValues(tc.a, tc.b); (got > 0) != (tc.want > 0) || (got < 0) != (tc.want < 0) {
			t.Fatalf("compareValues(%v, %v) = %d, want sign of %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestLookup(t *testing.T) {
	v := map[string]any{
		"a": map[string]any{"b": []any{float64(1), map[string]any{"c": "deep"}}},
		"n": nil,
	}
	if got, ok := lookup(v, []string{"a", "b", "1", "c"}); !ok || got != "deep" {
		t.Fatalf("deep lookup = %v %v", got, ok)
	}
	for _, path := range [][]string{{"n"}, {"a", "x"}, {"a", "b", "7"}, {"a", "b", "-1"}, {"a", "b", "0", "c"}} {
		if _, ok := lookup(v, path); ok {
			t.Fatalf("lookup(%v) should miss", path)
		}
	}
}
