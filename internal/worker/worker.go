package worker

import (
	"context"
	"encoding/json"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StockProjection is the cached stock view the worker maintains.
// Implemented by the redis client.
type StockProjection interface {
	InitStock(ctx context.Context, productID int64, total, available, consumed int) error
	AdjustStock(ctx context.Context, productID int64, availableDelta, consumedDelta int) (available, consumed int, err error)
}

// StockProjectionWorker keeps the Redis stock projection in sync with the
// key pool store. Completed fulfillments are applied as atomic counter
// deltas per line item; key imports trigger a full refresh from the
// database. The projection is advisory only; allocation always goes
// through the store.
type StockProjectionWorker struct {
	consumer          *broker.Consumer
	allocation        *service.AllocationService
	projection        StockProjection
	lowStockThreshold int
	logger            *zap.Logger
}

// NewStockProjectionWorker creates a new stock projection worker
func NewStockProjectionWorker(
	consumer *broker.Consumer,
	allocation *service.AllocationService,
	projection StockProjection,
	lowStockThreshold int,
) *StockProjectionWorker {
	return &StockProjectionWorker{
		consumer:          consumer,
		allocation:        allocation,
		projection:        projection,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// Start starts the worker
func (w *StockProjectionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock projection worker")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *StockProjectionWorker) Stop() error {
	w.logger.Info("Stopping stock projection worker")
	return w.consumer.Close()
}

func (w *StockProjectionWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		w.logger.Error("Failed to unmarshal event", zap.Error(err))
		// Drop poison messages instead of redelivering them forever.
		return nil
	}

	switch baseEvent.EventType {
	case models.EventTypeFulfillmentCompleted:
		var event models.FulfillmentCompletedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil
		}
		for _, item := range event.Items {
			w.applyAllocation(ctx, item.ProductID, item.Quantity)
		}

	case models.EventTypeFulfillmentFailed:
		// A rollback may have released keys; we only learn which products
		// from the next refresh cycle, so nothing to do per product here.

	case models.EventTypeKeysImported:
		var event models.KeysImportedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil
		}
		w.refreshProduct(ctx, event.ProductID)
	}

	return nil
}

// applyAllocation shifts one product's cached counters by an allocated
// quantity. A failed delta falls back to a full refresh so the projection
// never drifts silently.
func (w *StockProjectionWorker) applyAllocation(ctx context.Context, productID int64, quantity int) {
	available, _, err := w.projection.AdjustStock(ctx, productID, -quantity, quantity)
	if err != nil {
		w.logger.Error("Failed to adjust stock projection",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err))
		w.refreshProduct(ctx, productID)
		return
	}
	w.warnLowStock(productID, available)
}

// refreshProduct reloads one product's counts from the store into Redis.
func (w *StockProjectionWorker) refreshProduct(ctx context.Context, productID int64) {
	stock, err := w.allocation.GetStock(ctx, productID)
	if err != nil {
		w.logger.Error("Failed to read stock for projection",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return
	}

	if err := w.projection.InitStock(ctx, productID, stock.Total, stock.Available, stock.Consumed); err != nil {
		w.logger.Error("Failed to update stock projection",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	w.warnLowStock(productID, stock.Available)
}

func (w *StockProjectionWorker) warnLowStock(productID int64, available int) {
	if available <= w.lowStockThreshold {
		w.logger.Warn("Product key pool running low",
			zap.Int64("product_id", productID),
			zap.Int("available", available),
			zap.Int("threshold", w.lowStockThreshold))
	}
}
