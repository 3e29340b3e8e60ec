package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-platform/ledger-service/internal/domain"
)

func TestMemorySummaryCache_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySummaryCache()

	got, err := c.Get(ctx, "store-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, &domain.InventorySummary{StoreID: "store-1", TotalProducts: 3}, time.Minute))

	got, err = c.Get(ctx, "store-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.TotalProducts)

	require.NoError(t, c.Invalidate(ctx, "store-1"))
	got, err = c.Get(ctx, "store-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemorySummaryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemorySummaryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, &domain.InventorySummary{StoreID: "store-1"}, 0))

	now = now.Add(DefaultTTL - time.Second)
	got, err := c.Get(ctx, "store-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(time.Second)
	got, err = c.Get(ctx, "store-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemorySummaryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySummaryCache()
	summary := &domain.InventorySummary{StoreID: "store-1", LowStock: 1}
	require.NoError(t, c.Set(ctx, summary, time.Minute))

	summary.LowStock = 99
	got, err := c.Get(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LowStock)
}
