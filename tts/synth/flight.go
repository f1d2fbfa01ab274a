package synth

import (
	"context"
	"sync"
)

// flightLock serializes synthesis calls with strict FIFO fairness.
// Acquire blocks the caller behind earlier waiters; release hands the
// lock directly to the head waiter instead of letting goroutines race
// for it. Concurrent engine invocations on constrained devices cause
// memory spikes bad enough for the OS to kill the process, so exactly
// one synthesis runs at any instant.
type flightLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// acquire blocks until the lock is owned by the caller or ctx is done.
func (l *flightLock) acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The lock was already handed to us between ctx firing and
		// removal; pass it on so the queue keeps moving.
		l.release()
		return ctx.Err()
	}
}

// release either hands the lock to the next waiter in arrival order or
// marks it free.
func (l *flightLock) release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		// Ownership transfers directly; held stays true.
		close(next)
		return
	}
	l.held = false
	l.mu.Unlock()
}
