// Package keyqueue serializes operations on the same key in arrival order.
package keyqueue

import (
	"context"
	"sync"
)

type slot struct {
	// waiters in arrival order; waiters[0] holds the key
	waiters []chan struct{}
}

// Queue is a set of per-key FIFO locks. The zero value is ready to use.
type Queue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// Acquire waits until every earlier caller for key has released it.
// It returns a release func, or ctx.Err() if ctx ends while still waiting;
// in that case the caller never held the key.
func (q *Queue) Acquire(ctx context.Context, key string) (func(), error) {
	ch := make(chan struct{})

	q.mu.Lock()
	if q.slots == nil {
		q.slots = make(map[string]*slot)
	}
	s := q.slots[key]
	if s == nil {
		s = &slot{}
		q.slots[key] = s
	}
	s.waiters = append(s.waiters, ch)
	first := len(s.waiters) == 1
	q.mu.Unlock()

	if !first {
		select {
		case <-ch:
		case <-ctx.Done():
			q.mu.Lock()
			select {
			case <-ch:
				// handed the key just as ctx ended; pass it on
				q.mu.Unlock()
				q.release(key, ch)
			default:
				q.remove(key, s, ch)
				q.mu.Unlock()
			}
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { q.release(key, ch) }) }, nil
}

// TryAcquire takes key only if nobody holds or waits for it.
func (q *Queue) TryAcquire(key string) (func(), bool) {
	ch := make(chan struct{})
	q.mu.Lock()
	if q.slots == nil {
		q.slots = make(map[string]*slot)
	}
	if _, busy := q.slots[key]; busy {
		q.mu.Unlock()
		return nil, false
	}
	q.slots[key] = &slot{waiters: []chan struct{}{ch}}
	q.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { q.release(key, ch) }) }, true
}

// Len returns the number of keys currently held or waited on.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// Waiting returns how many callers hold or wait for key.
func (q *Queue) Waiting(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s := q.slots[key]; s != nil {
		return len(s.waiters)
	}
	return 0
}

func (q *Queue) release(key string, ch chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slots[key]
	if s == nil || len(s.waiters) == 0 || s.waiters[0] != ch {
		return
	}
	s.waiters = s.waiters[1:]
	if len(s.waiters) == 0 {
		delete(q.slots, key)
		return
	}
	close(s.waiters[0])
}

// remove drops a waiter that is not at the head. q.mu must be held.
func (q *Queue) remove(key string, s *slot, ch chan struct{}) {
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	if len(s.waiters) == 0 {
		delete(q.slots, key)
	}
}
