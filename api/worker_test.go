package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/api"
	"github.com/warp/facility-engine/factory"
	"github.com/warp/facility-engine/store/memory"
)

func newTestWorker(t *testing.T) *api.BillingWorker {
	store := memory.New()
	h := api.NewHandler(store, zap.NewNop())
	require.NoError(t, factory.Seed(context.Background(), factory.SeedStores{
		Catalog:  store,
		Rules:    store,
		Policies: store,
		Priority: h.Priority,
	}))
	w := api.NewBillingWorker(h, zap.NewNop())
	w.CheckInterval = 10 * time.Millisecond
	return w
}

func TestBillingWorker_StopIsIdempotent(t *testing.T) {
	// GIVEN: A started worker
	// WHEN: Stop is called twice
	// THEN: The second call is a no-op, not a panic

	w := newTestWorker(t)
	w.Start()

	assert.NotPanics(t, func() { w.Stop() })
	assert.NotPanics(t, func() { w.Stop() })
}

func TestBillingWorker_RunOnce_EmptyAccountsIsQuiet(t *testing.T) {
	w := newTestWorker(t)
	assert.NotPanics(t, func() { w.RunOnce(context.Background()) })
}
