/*
locks.go - Keyed lock registry with bounded wait

PURPOSE:
  Serializes check-and-commit sequences per key. The booking scheduler
  locks per resource so concurrent requests for the same instrument
  serialize while requests for disjoint instruments run in parallel; the
  billing service locks per account so cap checks read a stable committed
  aggregate. Waiting is bounded: acquisition past the timeout surfaces
  ErrBusy instead of blocking forever.

IMPLEMENTATION:
  One buffered channel of size 1 per key acts as the mutex, because
  channel acquisition composes with context cancellation and a timer.
  Idle entries are kept; registries are bounded by the catalog size.
*/
package core

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds the wait for a keyed lock.
const DefaultLockTimeout = 3 * time.Second

type LockRegistry struct {
	// Timeout bounds each acquisition; zero means DefaultLockTimeout.
	Timeout time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]chan struct{})}
}

func (lr *LockRegistry) lockFor(key string) chan struct{} {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	ch, ok := lr.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lr.locks[key] = ch
	}
	return ch
}

// Acquire takes the lock for one key. On success it returns a release
// function; on timeout or context cancellation it returns ErrBusy.
func (lr *LockRegistry) Acquire(ctx context.Context, key string) (func(), error) {
	timeout := lr.Timeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	ch := lr.lockFor(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ErrBusy
	}
}
