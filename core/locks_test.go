package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/facility-engine/core"
)

func TestLockRegistry_AcquireAndRelease(t *testing.T) {
	lr := core.NewLockRegistry()
	ctx := context.Background()

	release, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	release()

	// Reacquirable after release.
	release, err = lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	release()
}

func TestLockRegistry_HeldLock_TimesOutWithErrBusy(t *testing.T) {
	// GIVEN: A lock held by someone else
	// WHEN: A second acquisition waits past the timeout
	// THEN: ErrBusy is surfaced instead of blocking forever

	lr := core.NewLockRegistry()
	lr.Timeout = 20 * time.Millisecond
	ctx := context.Background()

	release, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	defer release()

	_, err = lr.Acquire(ctx, "confocal-1")
	assert.ErrorIs(t, err, core.ErrBusy)
	assert.True(t, core.IsRetryable(err))
}

func TestLockRegistry_DisjointKeys_DoNotContend(t *testing.T) {
	lr := core.NewLockRegistry()
	lr.Timeout = 20 * time.Millisecond
	ctx := context.Background()

	release1, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	defer release1()

	release2, err := lr.Acquire(ctx, "sequencer-1")
	require.NoError(t, err)
	release2()
}

func TestLockRegistry_CancelledContext_ReturnsErrBusy(t *testing.T) {
	lr := core.NewLockRegistry()
	ctx := context.Background()

	release, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	defer release()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = lr.Acquire(cancelled, "confocal-1")
	assert.ErrorIs(t, err, core.ErrBusy)
}

func TestLockRegistry_ReleaseIsIdempotent(t *testing.T) {
	lr := core.NewLockRegistry()
	ctx := context.Background()

	release, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	release()
	release() // must not unlock someone else's acquisition

	release2, err := lr.Acquire(ctx, "confocal-1")
	require.NoError(t, err)
	defer release2()

	lr.Timeout = 20 * time.Millisecond
	_, err = lr.Acquire(ctx, "confocal-1")
	assert.ErrorIs(t, err, core.ErrBusy)
}

func TestLockRegistry_SerializesCriticalSections(t *testing.T) {
	// GIVEN: 50 goroutines incrementing a counter guarded only by the lock
	// THEN: Every increment lands; the lock serialized them

	lr := core.NewLockRegistry()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lr.Acquire(ctx, "counter")
			if err != nil {
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
