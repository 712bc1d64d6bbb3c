package udstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

func (s *store) Query(ctx context.Context, ns string, q Query) ([]Entry, error) {
	n, bname, p, err := s.resolve(ns, q.Backend)
	if err != nil {
		return nil, err
	}
	keys, err := p.Keys(ctx, ns)
	if err != nil {
		return nil, &OpError{Op: "query", Namespace: ns, Backend: bname, Err: err}
	}

	// load concurrently, keep key order
	slots := make([]*Entry, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			e, ok, err := s.entry(gctx, n, bname, p, key, s.migrateLegacy)
			switch {
			case errors.Is(err, ErrIntegrity):
				return nil
			case err != nil:
				return err
			case ok:
				slots[i] = &e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(slots))
	for _, e := range slots {
		if e == nil {
			continue
		}
		if q.Filter != nil && !q.Filter(*e) {
			continue
		}
		out = append(out, *e)
	}
	if q.SortBy != "" {
		sortEntries(out, q.SortBy, q.SortOrder)
	}
	return page(out, q.Offset, q.Limit), nil
}

type sortable struct {
	e  Entry
	v  any
	ok bool
}

// sortEntries orders by the value at a dotted path. Entries missing the
// path sort last in either order; ties keep key order.
func sortEntries(entries []Entry, path string, order SortOrder) {
	segs := strings.Split(path, ".")
	items := make([]sortable, len(entries))
	for i, e := range entries {
		v, ok := lookup(e.Value, segs)
		items[i] = sortable{e: e, v: v, ok: ok}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.ok || !b.ok {
			return a.ok && !b.ok
		}
		c := compareValues(a.v, b.v)
		if order == Desc {
			return c > 0
		}
		return c < 0
	})
	for i := range items {
		entries[i] = items[i].e
	}
}

// lookup walks map keys and list indexes. A null value counts as missing.
func lookup(v any, path []string) (any, bool) {
	for _, seg := range path {
		switch t := v.(type) {
		case map[string]any:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = next
		case map[any]any:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			v = t[i]
		default:
			return nil, false
		}
	}
	return v, v != nil
}

func rank(v any) int {
	if _, ok := v.(bool); ok {
		return 0
	}
	if _, ok := number(v); ok {
		return 1
	}
	if _, ok := v.(string); ok {
		return 2
	}
	return 3
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case 1:
		x, _ := number(a)
		y, _ := number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// number widens every numeric shape the codecs decode into.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func page(entries []Entry, offset, limit int) []Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
