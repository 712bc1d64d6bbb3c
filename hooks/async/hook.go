// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/udstore"
//	"github.com/unkn0wn-root/udstore/hooks/async"
//	"github.com/unkn0wn-root/udstore/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ExpiredEvery: 100, // sample logs: ~every 100th expiry
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	store, _ := udstore.New(udstore.Options{
//	    Backends: backends,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/udstore"
)

type Hooks struct {
	inner   udstore.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64

	// closed guards sends on q; held for reading around every send
	mu     sync.RWMutex
	closed bool
}

var _ udstore.Hooks = (*Hooks)(nil)

func New(inner udstore.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events fired after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) IntegrityFault(ns, key, be string, err error) {
	h.try(func() { h.inner.IntegrityFault(ns, key, be, err) })
}
func (h *Hooks) ParseFault(ns, key, be string, err error) {
	h.try(func() { h.inner.ParseFault(ns, key, be, err) })
}
func (h *Hooks) Expired(ns, key, be string, lazy bool) {
	h.try(func() { h.inner.Expired(ns, key, be, lazy) })
}
func (h *Hooks) CapacityRetry(ns, key, be string, swept int, err error) {
	h.try(func() { h.inner.CapacityRetry(ns, key, be, swept, err) })
}
func (h *Hooks) LegacyMigrated(ns, key, be, kind string) {
	h.try(func() { h.inner.LegacyMigrated(ns, key, be, kind) })
}
func (h *Hooks) CompressionMismatch(ns, key, be string, flagged, marked bool) {
	h.try(func() { h.inner.CompressionMismatch(ns, key, be, flagged, marked) })
}
func (h *Hooks) RestoreSkipped(ns string, n int) { h.try(func() { h.inner.RestoreSkipped(ns, n) }) }
func (h *Hooks) EncryptionDisabled(err error)    { h.try(func() { h.inner.EncryptionDisabled(err) }) }
func (h *Hooks) SweepCompleted(removed int, took time.Duration, err error) {
	h.try(func() { h.inner.SweepCompleted(removed, took, err) })
}
