package service

import (
	"context"
	"sync"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportKeys_ReportsDuplicatesWithoutFailingBatch(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	result, err := as.ImportKeys(ctx, 1, []string{"AAA", "BBB"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, result.Added)
	assert.Empty(t, result.Duplicates)

	// Second import: AAA exists, CCC is new. The batch still imports.
	result, err = as.ImportKeys(ctx, 1, []string{"AAA", "CCC"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"CCC"}, result.Added)
	assert.Equal(t, []string{"AAA"}, result.Duplicates)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Available, "duplicate must not be inserted twice")
}

func TestImportKeys_DuplicateImportIdempotence(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"AAA"}, false)
	require.NoError(t, err)

	result, err := as.ImportKeys(ctx, 1, []string{"AAA"}, false)
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Equal(t, []string{"AAA"}, result.Duplicates)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Available)
}

func TestImportKeys_ExplicitOverrideAllowsDuplicates(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"AAA"}, false)
	require.NoError(t, err)

	result, err := as.ImportKeys(ctx, 1, []string{"AAA"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, result.Added)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available, "duplicates coexist as distinct key records")
}

func TestImportKeys_PoolPolicyAllowsDuplicates(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	require.NoError(t, as.SetPoolConfig(ctx, 1, true))

	_, err := as.ImportKeys(ctx, 1, []string{"AAA"}, false)
	require.NoError(t, err)
	result, err := as.ImportKeys(ctx, 1, []string{"AAA"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, result.Added)
}

func TestAllocate_FIFOOldestFirst(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"FIRST", "SECOND", "THIRD"}, false)
	require.NoError(t, err)

	keys, err := as.Allocate(ctx, 1, 2, "order-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "FIRST", keys[0].KeyValue)
	assert.Equal(t, "SECOND", keys[1].KeyValue)
	assert.Equal(t, models.KeyStateAllocated, keys[0].State)
	require.NotNil(t, keys[0].AllocatedToOrderID)
	assert.Equal(t, "order-1", *keys[0].AllocatedToOrderID)
}

func TestAllocate_InsufficientStockHasNoSideEffects(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"AAA", "BBB"}, false)
	require.NoError(t, err)

	_, err = as.Allocate(ctx, 1, 3, "order-1")
	require.Error(t, err)

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available, "no key may be marked on a failed allocation")
	assert.Equal(t, 0, stock.Consumed)
}

func TestAllocate_ConcurrentCallsNeverOverlap(t *testing.T) {
	pool := newMemPool()
	as := NewAllocationService(pool)
	ctx := context.Background()

	const available = 10
	const workers = 8
	const perCall = 3
	importN(pool, 1, available)

	var wg sync.WaitGroup
	results := make([][]models.LicenseKey, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			keys, err := as.Allocate(ctx, 1, perCall, "order-"+string(rune('a'+n)))
			results[n] = keys
			errs[n] = err
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	allocated := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], models.ErrInsufficientStock)
			assert.Empty(t, results[i])
			continue
		}
		require.Len(t, results[i], perCall)
		for _, k := range results[i] {
			assert.False(t, seen[k.ID], "key %d handed to two calls", k.ID)
			seen[k.ID] = true
			allocated++
		}
	}

	assert.LessOrEqual(t, allocated, available)
	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, allocated, stock.Consumed)
	assert.Equal(t, available-allocated, stock.Available)
}

func TestRelease_ReturnsOrderKeysToPool(t *testing.T) {
	as := NewAllocationService(newMemPool())
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"AAA", "BBB"}, false)
	require.NoError(t, err)
	_, err = as.Allocate(ctx, 1, 2, "order-1")
	require.NoError(t, err)

	released, err := as.Release(ctx, 1, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available)
	assert.Equal(t, 0, stock.Consumed)
}

func TestRemoveKey_RespectsStateMachine(t *testing.T) {
	pool := newMemPool()
	as := NewAllocationService(pool)
	ctx := context.Background()

	_, err := as.ImportKeys(ctx, 1, []string{"AAA", "BBB"}, false)
	require.NoError(t, err)

	keys, err := as.Allocate(ctx, 1, 1, "order-1")
	require.NoError(t, err)

	err = as.RemoveKey(ctx, keys[0].ID)
	assert.ErrorIs(t, err, models.ErrKeyAlreadyAllocated)

	stock, err := as.GetStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, stock.Available)

	// The remaining available key can be removed.
	var availableID int64
	for _, k := range pool.keys {
		if k.State == models.KeyStateAvailable {
			availableID = k.ID
		}
	}
	require.NoError(t, as.RemoveKey(ctx, availableID))

	err = as.RemoveKey(ctx, availableID)
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

func TestAllocate_RejectsNonPositiveQuantity(t *testing.T) {
	as := NewAllocationService(newMemPool())

	_, err := as.Allocate(context.Background(), 1, 0, "order-1")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}
