package udstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/provider/memory"
	"github.com/unkn0wn-root/udstore/seal"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder captures hook events as short strings.
type recorder struct {
	NopHooks
	mu     sync.Mutex
	events []string
	sweeps chan int
}

func newRecorder() *recorder { return &recorder{sweeps: make(chan int, 16)} }

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) IntegrityFault(ns, key, _ string, _ error) { r.add("integrity %s/%s", ns, key) }
func (r *recorder) ParseFault(ns, key, _ string, _ error)     { r.add("parse %s/%s", ns, key) }
func (r *recorder) Expired(ns, key, _ string, lazy bool)      { r.add("expired %s/%s lazy=%v", ns, key, lazy) }
func (r *recorder) CapacityRetry(ns, key, _ string, swept int, err error) {
	r.add("capacity %s/%s swept=%d ok=%v", ns, key, swept, err == nil)
}
func (r *recorder) LegacyMigrated(ns, key, _, kind string) { r.add("migrated %s/%s %s", ns, key, kind) }
func (r *recorder) CompressionMismatch(ns, key, _ string, flagged, marked bool) {
	r.add("mismatch %s/%s flagged=%v marked=%v", ns, key, flagged, marked)
}
func (r *recorder) RestoreSkipped(ns string, n int) { r.add("skipped %s %d", ns, n) }
func (r *recorder) EncryptionDisabled(err error)    { r.add("encryption disabled: %v", err) }
func (r *recorder) SweepCompleted(removed int, _ time.Duration, _ error) {
	r.add("sweep %d", removed)
	select {
	case r.sweeps <- removed:
	default:
	}
}

func (r *recorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// logRecorder keeps "LEVEL msg" lines.
type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) log(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l *logRecorder) Debug(msg string, _ Fields) { l.log("DEBUG", msg) }
func (l *logRecorder) Info(msg string, _ Fields)  { l.log("INFO", msg) }
func (l *logRecorder) Warn(msg string, _ Fields)  { l.log("WARN", msg) }
func (l *logRecorder) Error(msg string, _ Fields) { l.log("ERROR", msg) }

func (l *logRecorder) count(line string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.lines {
		if s == line {
			n++
		}
	}
	return n
}

type env struct {
	s          *store
	clock      *clock
	hooks      *recorder
	durable    *memory.Provider
	ephemeral  *memory.Provider
	structured *memory.Provider
}

func testCipher(t *testing.T, secret string) seal.Cipher {
	t.Helper()
	box, err := seal.FromSecret([]byte(secret), []byte("udstore-test"))
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	return box
}

func newEnv(t *testing.T, tweak func(*Options)) *env {
	t.Helper()
	e := &env{
		clock:      newClock(),
		hooks:      newRecorder(),
		durable:    memory.New(memory.Config{Name: "durable"}),
		ephemeral:  memory.New(memory.Config{Name: "ephemeral"}),
		structured: memory.New(memory.Config{Name: "structured", SeparateMetadata: true}),
	}
	opts := Options{
		Backends: map[string]pr.Provider{
			BackendDurable:    e.durable,
			BackendEphemeral:  e.ephemeral,
			BackendStructured: e.structured,
		},
		Cipher:        testCipher(t, "test secret"),
		SweepInterval: -1,
		Hooks:         e.hooks,
		Now:           e.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	s, err := newStore(opts)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	e.s = s
	return e
}

func rawRecord(t *testing.T, p pr.Provider, ns, key string) envelope.Record {
	t.Helper()
	it, ok, err := p.Get(context.Background(), ns, key)
	if err != nil || !ok {
		t.Fatalf("raw get %s/%s: ok=%v err=%v", ns, key, ok, err)
	}
	rec, err := envelope.Decode(it)
	if err != nil {
		t.Fatalf("decode %s/%s: %v", ns, key, err)
	}
	return rec
}

func putRecord(t *testing.T, p pr.Provider, ns, key string, rec envelope.Record) {
	t.Helper()
	it, err := envelope.Encode(rec, p.Capabilities().SeparateMetadata)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	putRaw(t, p, ns, key, it)
}

func putRaw(t *testing.T, p pr.Provider, ns, key string, it pr.Item) {
	t.Helper()
	if err := p.Put(context.Background(), ns, key, it); err != nil {
		t.Fatalf("raw put %s/%s: %v", ns, key, err)
	}
}

func mustSet(t *testing.T, s Store, ns, key string, v any, opts ...SetOption) {
	t.Helper()
	if err := s.Set(context.Background(), ns, key, v, opts...); err != nil {
		t.Fatalf("Set %s/%s: %v", ns, key, err)
	}
}

func mustMeta(t *testing.T, s Store, ns, key string, opts ...GetOption) Metadata {
	t.Helper()
	got, err := s.GetMultiple(context.Background(), ns, []string{key}, opts...)
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	e, ok := got[key]
	if !ok {
		t.Fatalf("%s/%s missing", ns, key)
	}
	return e.Meta
}

func keysOf(t *testing.T, p pr.Provider, ns string) []string {
	t.Helper()
	keys, err := p.Keys(context.Background(), ns)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	return keys
}

// limitedProvider refuses new keys once a namespace holds max records.
type limitedProvider struct {
	*memory.Provider
	max int
}

func (p *limitedProvider) Put(ctx context.Context, ns, key string, it pr.Item) error {
	if _, ok, _ := p.Provider.Get(ctx, ns, key); !ok && p.Provider.Len(ns) >= p.max {
		return pr.ErrCapacityExceeded
	}
	return p.Provider.Put(ctx, ns, key, it)
}

// gatedProvider blocks the first Put until gate is closed and logs the
// order in which payloads reach storage.
type gatedProvider struct {
	*memory.Provider
	entered chan struct{}
	gate    chan struct{}
	first   atomic.Bool

	mu     sync.Mutex
	writes []string
}

func (p *gatedProvider) Put(ctx context.Context, ns, key string, it pr.Item) error {
	if p.first.CompareAndSwap(false, true) {
		close(p.entered)
		<-p.gate
	}
	if rec, err := envelope.Decode(it); err == nil {
		p.mu.Lock()
		p.writes = append(p.writes, string(rec.Data))
		p.mu.Unlock()
	}
	return p.Provider.Put(ctx, ns, key, it)
}

type closeCounter struct {
	*memory.Provider
	closes atomic.Int32
}

func (p *closeCounter) Close(ctx context.Context) error {
	p.closes.Add(1)
	return p.Provider.Close(ctx)
}

func waitWaiting(t *testing.T, s *store, ns, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.locks.Waiting(lockKey(ns, key)) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callers on %s/%s", n, ns, key)
}
