package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(n int) (*Pool, []*fakeSession) {
	fakes := make([]*fakeSession, n)
	sessions := make([]Session, n)
	for i := range fakes {
		fakes[i] = newFakeSession()
		sessions[i] = fakes[i]
	}
	return NewPool(sessions), fakes
}

func TestPool_AcquireReleaseAccounting(t *testing.T) {
	pool, _ := newTestPool(3)

	const tasks = 20
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(s)
		}()
	}
	wg.Wait()

	if pool.Acquired() != tasks {
		t.Errorf("acquired = %d, want %d", pool.Acquired(), tasks)
	}
	if pool.Acquired() != pool.Released() {
		t.Errorf("acquire count %d != release count %d", pool.Acquired(), pool.Released())
	}
}

func TestPool_CapacityBound(t *testing.T) {
	pool, _ := newTestPool(2)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.With(context.Background(), func(Session) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("With failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("concurrently issued sessions peaked at %d, capacity is 2", got)
	}
}

func TestPool_DoubleReleaseDoesNotInflate(t *testing.T) {
	pool, _ := newTestPool(1)

	s, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	pool.Release(s)
	pool.Release(s) // second release must be a no-op

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second acquire should block on a size-1 pool, got err=%v", err)
	}
	pool.Release(first)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	pool, _ := newTestPool(1)

	s, _ := pool.Acquire(context.Background())
	defer pool.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestPool_WithReleasesOnError(t *testing.T) {
	pool, _ := newTestPool(1)

	wantErr := errors.New("extraction fault")
	if err := pool.With(context.Background(), func(Session) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("With should surface the task error, got %v", err)
	}

	if pool.Acquired() != 1 || pool.Released() != 1 {
		t.Errorf("session leaked after task error: acquired=%d released=%d", pool.Acquired(), pool.Released())
	}
}

func TestPool_CloseClosesIdleSessions(t *testing.T) {
	pool, fakes := newTestPool(3)
	pool.Close()
	for i, f := range fakes {
		if !f.closed {
			t.Errorf("session %d not closed", i)
		}
	}
}
