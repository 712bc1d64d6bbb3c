package udstore

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
)

func (s *store) cleanupLoop() {
	defer s.closeWg.Done()
	for {
		select {
		case <-s.ticker.C:
			if _, err := s.sweep(s.sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("background sweep failed", Fields{"err": err})
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *store) Sweep(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.sweep(ctx)
}

func (s *store) sweep(ctx context.Context) (int, error) {
	start := time.Now()
	removed := 0
	var errs []error
	for _, bname := range s.distinctBackends() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.sweepBackend(ctx, bname, s.backends[bname], false)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	took := time.Since(start)
	s.hooks.SweepCompleted(removed, took, err)
	if removed > 0 || err != nil {
		s.log.Info("expiry sweep finished", Fields{"removed": removed, "took": took.String(), "err": err})
	}
	return removed, err
}

// distinctBackends lists backend names with providers registered under
// several names reported once.
func (s *store) distinctBackends() []string {
	seen := make(map[pr.Provider]bool, len(s.backends))
	out := make([]string, 0, len(s.beOrder))
	for _, name := range s.beOrder {
		p := s.backends[name]
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, name)
	}
	return out
}

// sweepBackend deletes expired records of every namespace on one backend.
// With try set, keys whose lock is held are skipped instead of waited for;
// the capacity retry runs while its own key is locked.
func (s *store) sweepBackend(ctx context.Context, bname string, p pr.Provider, try bool) (int, error) {
	removed := 0
	var errs []error
	for _, ns := range s.nsOrder {
		if err := ctx.Err(); err != nil {
			return removed, errors.Join(append(errs, err)...)
		}
		keys, err := p.Keys(ctx, ns)
		if err != nil {
			errs = append(errs, &OpError{Op: "sweep", Namespace: ns, Backend: bname, Err: err})
			continue
		}
		for _, key := range keys {
			ok, err := s.expireIfDue(ctx, bname, p, ns, key, try)
			if err != nil {
				if ctx.Err() != nil {
					return removed, errors.Join(append(errs, err)...)
				}
				errs = append(errs, &OpError{Op: "sweep", Namespace: ns, Key: key, Backend: bname, Err: err})
				continue
			}
			if ok {
				removed++
			}
		}
	}
	return removed, errors.Join(errs...)
}

func (s *store) expireIfDue(ctx context.Context, bname string, p pr.Provider, ns, key string, try bool) (bool, error) {
	var release func()
	if try {
		r, ok := s.locks.TryAcquire(lockKey(ns, key))
		if !ok {
			return false, nil
		}
		release = r
	} else {
		r, err := s.locks.Acquire(ctx, lockKey(ns, key))
		if err != nil {
			return false, err
		}
		release = r
	}
	defer release()

	ctx = context.WithoutCancel(ctx)
	it, ok, err := p.Get(ctx, ns, key)
	if err != nil || !ok {
		return false, err
	}
	rec, err := envelope.Decode(it)
	if err != nil || rec.Kind == envelope.KindLegacy || !rec.Meta.Expired(s.now()) {
		return false, nil
	}
	if err := p.Delete(ctx, ns, key); err != nil {
		return false, err
	}
	s.hooks.Expired(ns, key, bname, false)
	return true, nil
}
