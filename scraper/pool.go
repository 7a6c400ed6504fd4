package scraper

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool is a fixed-capacity, FIFO session pool. It performs no I/O of its own:
// sessions are created by the caller, handed to the pool, and reclaimed
// through Close. Acquire blocks until a session is idle; Release never fails.
//
// Releasing a session that is not checked out (including a double release) is
// a no-op, so the number of concurrently issued sessions can never exceed the
// configured capacity.
type Pool struct {
	idle chan Session

	mu  sync.Mutex
	out map[Session]struct{}

	acquired atomic.Int64
	released atomic.Int64
}

// NewPool builds a pool owning the given sessions. Capacity is fixed at
// len(sessions) and never grows.
func NewPool(sessions []Session) *Pool {
	p := &Pool{
		idle: make(chan Session, len(sessions)),
		out:  make(map[Session]struct{}, len(sessions)),
	}
	for _, s := range sessions {
		p.idle <- s
	}
	return p
}

// Cap returns the pool's fixed capacity.
func (p *Pool) Cap() int {
	return cap(p.idle)
}

// Acquire hands out an idle session, blocking until one is available or ctx
// is done. Waiters are served in arrival order.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case s := <-p.idle:
		p.mu.Lock()
		p.out[s] = struct{}{}
		p.mu.Unlock()
		p.acquired.Add(1)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. Validity of the underlying tab is
// the caller's concern, not the pool's.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	_, wasOut := p.out[s]
	delete(p.out, s)
	p.mu.Unlock()
	if !wasOut {
		return
	}
	p.released.Add(1)
	p.idle <- s
}

// With runs fn with an acquired session, guaranteeing the release on every
// exit path including panics inside fn.
func (p *Pool) With(ctx context.Context, fn func(Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(s)
}

// Acquired returns the number of successful Acquire calls.
func (p *Pool) Acquired() int64 {
	return p.acquired.Load()
}

// Released returns the number of effective Release calls.
func (p *Pool) Released() int64 {
	return p.released.Load()
}

// Close closes every session the pool owns. It must only be called after all
// in-flight tasks have released their sessions.
func (p *Pool) Close() {
	for {
		select {
		case s := <-p.idle:
			_ = s.Close()
		default:
			return
		}
	}
}
