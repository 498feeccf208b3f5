package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentEvents publishes fulfillment outcomes. Publishing is
// best-effort and never changes an outcome that has already been decided.
type FulfillmentEvents interface {
	PublishFulfillmentCompleted(ctx context.Context, event *models.FulfillmentCompletedEvent) error
	PublishFulfillmentFailed(ctx context.Context, event *models.FulfillmentFailedEvent) error
}

// FulfillmentCoordinator ties an order's payment and key allocation into
// one all-or-nothing unit of work. The ledger and the key pool may live in
// independent stores, so there is no cross-store database transaction;
// rollback is an explicit compensation: keys already allocated for the
// order are released and an applied debit is reversed with a refund of the
// same amount. Once the debit has committed the coordinator always either
// completes allocation or compensates; callers must not cancel mid-flight.
type FulfillmentCoordinator struct {
	wallet     *WalletService
	allocation *AllocationService
	events     FulfillmentEvents
	logger     *zap.Logger
}

// NewFulfillmentCoordinator creates a new fulfillment coordinator
func NewFulfillmentCoordinator(wallet *WalletService, allocation *AllocationService, events FulfillmentEvents) *FulfillmentCoordinator {
	return &FulfillmentCoordinator{
		wallet:     wallet,
		allocation: allocation,
		events:     events,
		logger:     util.GetLogger(),
	}
}

// FulfillOrderRequest describes a single order to fulfill.
type FulfillOrderRequest struct {
	TenantID      string            `json:"tenant_id" binding:"required"`
	CustomerID    string            `json:"customer_id" binding:"required"`
	OrderID       string            `json:"order_id,omitempty"`
	Items         []models.LineItem `json:"items" binding:"required,min=1"`
	PaymentMethod string            `json:"payment_method"`
}

// FulfillOrder is the sole mutation entry point for the order workflow.
//
// Payment methods other than "wallet" (including an omitted method) skip
// the wallet debit entirely; those payments are settled by an external
// collaborator and the engine only allocates keys for them.
func (fc *FulfillmentCoordinator) FulfillOrder(ctx context.Context, req *FulfillOrderRequest) (*models.FulfillmentResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentCoordinator.FulfillOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.FulfillmentLatency.Observe(time.Since(start).Seconds())
	}()

	if len(req.Items) == 0 {
		util.FulfillmentsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("order has no line items")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			util.FulfillmentsTotal.WithLabelValues("invalid").Inc()
			return nil, models.ErrInvalidAmount
		}
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	var total int64
	for _, item := range req.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}

	fc.logger.Info("Fulfilling order",
		zap.String("tenant_id", req.TenantID),
		zap.String("customer_id", req.CustomerID),
		zap.String("order_id", orderID),
		zap.Int64("total", total),
		zap.String("payment_method", req.PaymentMethod))

	// Step 1: charge the wallet, if this order pays by wallet. An
	// InsufficientFunds here aborts the whole fulfillment before any key is
	// touched.
	var debit *models.WalletTransaction
	if req.PaymentMethod == models.PaymentMethodWallet {
		var err error
		debit, err = fc.wallet.Debit(ctx, req.TenantID, req.CustomerID, total, orderID)
		if err != nil {
			util.FulfillmentsTotal.WithLabelValues("payment_failed").Inc()
			fc.publishFailed(ctx, req, orderID, err)
			return nil, err
		}
	}

	// Step 2: allocate keys line by line. The first failure unwinds
	// everything this call has done so far.
	lines := make([]models.AllocatedLine, 0, len(req.Items))
	for i, item := range req.Items {
		keys, err := fc.allocation.Allocate(ctx, item.ProductID, item.Quantity, orderID)
		if err != nil {
			fc.compensate(ctx, req, orderID, req.Items[:i], debit, total)
			util.FulfillmentsTotal.WithLabelValues("rolled_back").Inc()
			fc.publishFailed(ctx, req, orderID, err)
			return nil, err
		}
		lines = append(lines, models.AllocatedLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Keys:      keys,
		})
	}

	util.FulfillmentsTotal.WithLabelValues("completed").Inc()
	fc.logger.Info("Order fulfilled",
		zap.String("order_id", orderID),
		zap.Int64("total", total))

	if fc.events != nil {
		event := &models.FulfillmentCompletedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeFulfillmentCompleted,
				Timestamp: time.Now(),
			},
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			OrderID:     orderID,
			TotalAmount: total,
			Items:       req.Items,
		}
		if err := fc.events.PublishFulfillmentCompleted(ctx, event); err != nil {
			fc.logger.Error("Failed to publish FulfillmentCompleted event", zap.Error(err))
		}
	}

	return &models.FulfillmentResult{
		OrderID:     orderID,
		TotalAmount: total,
		Transaction: debit,
		Lines:       lines,
	}, nil
}

// compensate unwinds a partially applied fulfillment: keys allocated for
// the order's earlier line items go back to their pools, and an applied
// wallet debit is reversed with a refund of the same amount. A failing
// compensation step is logged and the remaining steps still run; the order
// correlation id is what an operator needs to finish the job by hand.
func (fc *FulfillmentCoordinator) compensate(
	ctx context.Context,
	req *FulfillOrderRequest,
	orderID string,
	allocated []models.LineItem,
	debit *models.WalletTransaction,
	total int64,
) {
	fc.logger.Warn("Rolling back fulfillment",
		zap.String("order_id", orderID),
		zap.Int("allocated_lines", len(allocated)))

	released := map[int64]bool{}
	for _, item := range allocated {
		if released[item.ProductID] {
			continue
		}
		released[item.ProductID] = true
		if _, err := fc.allocation.Release(ctx, item.ProductID, orderID); err != nil {
			fc.logger.Error("Failed to release keys during rollback",
				zap.String("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	if debit != nil {
		if _, err := fc.wallet.Refund(ctx, req.TenantID, req.CustomerID, total, orderID); err != nil {
			fc.logger.Error("Failed to refund debit during rollback",
				zap.String("order_id", orderID),
				zap.Int64("amount", total),
				zap.Error(err))
		}
	}
}

func (fc *FulfillmentCoordinator) publishFailed(ctx context.Context, req *FulfillOrderRequest, orderID string, cause error) {
	if fc.events == nil {
		return
	}
	event := &models.FulfillmentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeFulfillmentFailed,
			Timestamp: time.Now(),
		},
		TenantID:   req.TenantID,
		CustomerID: req.CustomerID,
		OrderID:    orderID,
		Reason:     cause.Error(),
	}
	if err := fc.events.PublishFulfillmentFailed(ctx, event); err != nil {
		fc.logger.Error("Failed to publish FulfillmentFailed event", zap.Error(err))
	}
}
