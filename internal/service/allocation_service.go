package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AllocationService hands out unique, unused license keys from per-product
// pools. It is the only mutator of key state.
type AllocationService struct {
	pool   KeyPoolStore
	logger *zap.Logger
}

// NewAllocationService creates a new allocation service
func NewAllocationService(pool KeyPoolStore) *AllocationService {
	return &AllocationService{
		pool:   pool,
		logger: util.GetLogger(),
	}
}

// GetStock returns the aggregate key counts for a product.
func (as *AllocationService) GetStock(ctx context.Context, productID int64) (*models.Stock, error) {
	return as.pool.GetStock(ctx, productID)
}

// GetPoolConfig returns the per-product duplicate policy.
func (as *AllocationService) GetPoolConfig(ctx context.Context, productID int64) (*models.KeyPoolConfig, error) {
	return as.pool.GetPoolConfig(ctx, productID)
}

// SetPoolConfig updates the per-product duplicate policy.
func (as *AllocationService) SetPoolConfig(ctx context.Context, productID int64, allowDuplicates bool) error {
	return as.pool.SetPoolConfig(ctx, productID, allowDuplicates)
}

// ImportKeys bulk-inserts key values into a product's pool. Values already
// present are reported in Duplicates and skipped unless duplicates are
// allowed by the stored pool policy or the explicit override; the rest of
// the batch still imports.
func (as *AllocationService) ImportKeys(ctx context.Context, productID int64, keyValues []string, allowDuplicates bool) (*models.ImportResult, error) {
	ctx, span := util.StartSpan(ctx, "AllocationService.ImportKeys")
	defer span.End()

	result, err := as.pool.ImportKeys(ctx, productID, keyValues, allowDuplicates)
	if err != nil {
		return nil, err
	}

	util.KeysImportedTotal.Add(float64(len(result.Added)))
	util.KeysImportDuplicatesTotal.Add(float64(len(result.Duplicates)))
	as.logger.Info("Keys imported",
		zap.Int64("product_id", productID),
		zap.Int("added", len(result.Added)),
		zap.Int("duplicates", len(result.Duplicates)))
	return result, nil
}

// Allocate claims exactly quantity keys for an order, oldest available
// first, or fails with InsufficientStock and zero side effects. Concurrent
// allocations against the same pool are serialized by the store's row
// locks, so overlapping keys are never handed out.
func (as *AllocationService) Allocate(ctx context.Context, productID int64, quantity int, orderID string) ([]models.LicenseKey, error) {
	ctx, span := util.StartSpan(ctx, "AllocationService.Allocate")
	defer span.End()

	start := time.Now()
	defer func() {
		util.KeyAllocationLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		util.AllocationsFailedTotal.WithLabelValues("invalid_quantity").Inc()
		return nil, models.ErrInvalidAmount
	}

	keys, err := as.pool.AllocateKeys(ctx, productID, quantity, orderID)
	if err != nil {
		if models.IsBusinessError(err) {
			util.AllocationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.AllocationsFailedTotal.WithLabelValues("storage_error").Inc()
		}
		return nil, err
	}

	util.KeysAllocatedTotal.Add(float64(len(keys)))
	as.logger.Info("Keys allocated",
		zap.Int64("product_id", productID),
		zap.String("order_id", orderID),
		zap.Int("quantity", quantity))
	return keys, nil
}

// Release returns an order's keys to the pool. Compensation path only,
// invoked by the fulfillment coordinator when a later step of the same
// order fails.
func (as *AllocationService) Release(ctx context.Context, productID int64, orderID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "AllocationService.Release")
	defer span.End()

	released, err := as.pool.ReleaseKeys(ctx, productID, orderID)
	if err != nil {
		return 0, err
	}

	util.KeysReleasedTotal.Add(float64(released))
	as.logger.Warn("Keys released",
		zap.Int64("product_id", productID),
		zap.String("order_id", orderID),
		zap.Int("released", released))
	return released, nil
}

// RemoveKey deletes an unallocated key from its pool. Admin operation;
// keys that already left the available state cannot be removed.
func (as *AllocationService) RemoveKey(ctx context.Context, keyID int64) error {
	ctx, span := util.StartSpan(ctx, "AllocationService.RemoveKey")
	defer span.End()

	if err := as.pool.RemoveKey(ctx, keyID); err != nil {
		return err
	}
	as.logger.Info("Key removed", zap.Int64("key_id", keyID))
	return nil
}
