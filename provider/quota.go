package provider

import "sync"

// Quota tracks bytes used by a capacity-limited store.
// A zero Limit disables the check.
type Quota struct {
	mu    sync.Mutex
	limit int64
	used  int64
}

func NewQuota(limit int64) *Quota { return &Quota{limit: limit} }

// Reserve accounts for replacing a record of oldSize bytes by one of
// newSize bytes. It returns ErrCapacityExceeded and changes nothing when the
// result would not fit.
func (q *Quota) Reserve(oldSize, newSize int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := q.used - oldSize + newSize
	if q.limit > 0 && newSize > oldSize && next > q.limit {
		return ErrCapacityExceeded
	}
	q.used = next
	return nil
}

// Release returns size bytes to the pool.
func (q *Quota) Release(size int64) {
	q.mu.Lock()
	q.used -= size
	if q.used < 0 {
		q.used = 0
	}
	q.mu.Unlock()
}

// Reset sets the current usage, e.g. after scanning an existing store.
func (q *Quota) Reset(used int64) {
	q.mu.Lock()
	q.used = used
	q.mu.Unlock()
}

func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

func (q *Quota) Limit() int64 { return q.limit }
