package keyqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	var q Queue
	ctx := context.Background()

	release, err := q.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	const n = 20
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel, err := q.Acquire(ctx, "k")
			if err != nil {
				t.Errorf("Acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}(i)
		waitForWaiters(t, &q, "k", i+2)
	}
	release()
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("out of order: %v", order)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not cleaned up: %d keys", q.Len())
	}
}

func TestIndependentKeys(t *testing.T) {
	var q Queue
	ctx := context.Background()
	relA, _ := q.Acquire(ctx, "a")
	defer relA()

	done := make(chan struct{})
	go func() {
		relB, err := q.Acquire(ctx, "b")
		if err == nil {
			relB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("different keys must not block each other")
	}
}

func TestCancelWhileWaiting(t *testing.T) {
	var q Queue
	rel, _ := q.Acquire(context.Background(), "k")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Acquire(ctx, "k")
		errCh <- err
	}()
	waitForWaiters(t, &q, "k", 2)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// the cancelled waiter must not block the next one
	got := make(chan struct{})
	go func() {
		r, err := q.Acquire(context.Background(), "k")
		if err == nil {
			r()
		}
		close(got)
	}()
	waitForWaiters(t, &q, "k", 2)
	rel()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("queue stuck after cancellation")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	var q Queue
	ctx := context.Background()
	rel, _ := q.Acquire(ctx, "k")
	rel()
	rel()
	rel2, err := q.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rel2()
}

func waitForWaiters(t *testing.T, q *Queue, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Waiting(key) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters on %q", n, key)
}

func TestTryAcquire(t *testing.T) {
	var q Queue
	rel, ok := q.TryAcquire("k")
	if !ok {
		t.Fatalf("TryAcquire on a free key failed")
	}
	if _, ok := q.TryAcquire("k"); ok {
		t.Fatalf("TryAcquire on a held key succeeded")
	}
	rel()
	rel2, ok := q.TryAcquire("k")
	if !ok {
		t.Fatalf("TryAcquire after release failed")
	}
	rel2()
	if q.Len() != 0 {
		t.Fatalf("queue not cleaned up")
	}
}
