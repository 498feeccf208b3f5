package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletService owns all reads and mutations of wallet state. Every
// balance change produces exactly one ledger transaction; the two are
// persisted atomically by the store.
type WalletService struct {
	ledger LedgerStore
	logger *zap.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(ledger LedgerStore) *WalletService {
	return &WalletService{
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// GetBalance returns the wallet for (tenant, customer), creating a
// zero-balance wallet on first access.
func (ws *WalletService) GetBalance(ctx context.Context, tenantID, customerID string) (*models.Wallet, error) {
	return ws.ledger.GetOrCreateWallet(ctx, tenantID, customerID)
}

// ListTransactions returns the wallet's ledger history, oldest first.
func (ws *WalletService) ListTransactions(ctx context.Context, tenantID, customerID string) ([]models.WalletTransaction, error) {
	return ws.ledger.ListTransactions(ctx, tenantID, customerID)
}

// AddDeposit increases the prepaid deposit balance.
func (ws *WalletService) AddDeposit(ctx context.Context, tenantID, customerID string, amount int64, description, actor string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.AddDeposit")
	defer span.End()

	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	_, entry, err := ws.ledger.UpdateWallet(ctx, tenantID, customerID,
		func(w *models.Wallet) (*models.WalletTransaction, error) {
			w.DepositBalance += amount
			return &models.WalletTransaction{
				ID:           uuid.New().String(),
				Type:         models.TxTypeDeposit,
				Amount:       amount,
				BalanceAfter: w.DepositBalance,
				Description:  description,
				Actor:        actor,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	util.WalletDepositsTotal.Inc()
	ws.logger.Info("Deposit recorded",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.Int64("amount", amount))
	return entry, nil
}

// SetCreditLimit sets the revolving credit limit. Credit already drawn is
// left untouched, so lowering the limit below the current draw produces an
// overlimit wallet. That state is intentional and visible on reads, never
// auto-corrected here.
func (ws *WalletService) SetCreditLimit(ctx context.Context, tenantID, customerID string, newLimit int64, actor string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.SetCreditLimit")
	defer span.End()

	if newLimit < 0 {
		return nil, models.ErrInvalidAmount
	}

	_, entry, err := ws.ledger.UpdateWallet(ctx, tenantID, customerID,
		func(w *models.Wallet) (*models.WalletTransaction, error) {
			delta := newLimit - w.CreditLimit
			w.CreditLimit = newLimit
			return &models.WalletTransaction{
				ID:           uuid.New().String(),
				Type:         models.TxTypeCreditLimit,
				Amount:       delta,
				BalanceAfter: w.DepositBalance,
				Description:  "credit limit change",
				Actor:        actor,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	ws.logger.Info("Credit limit set",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.Int64("new_limit", newLimit))
	return entry, nil
}

// RecordCreditPayment reduces drawn credit by amount, floored at zero.
func (ws *WalletService) RecordCreditPayment(ctx context.Context, tenantID, customerID string, amount int64, description, actor string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.RecordCreditPayment")
	defer span.End()

	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	_, entry, err := ws.ledger.UpdateWallet(ctx, tenantID, customerID,
		func(w *models.Wallet) (*models.WalletTransaction, error) {
			w.CreditUsed -= amount
			if w.CreditUsed < 0 {
				w.CreditUsed = 0
			}
			return &models.WalletTransaction{
				ID:           uuid.New().String(),
				Type:         models.TxTypeCreditPayment,
				Amount:       amount,
				BalanceAfter: w.DepositBalance,
				Description:  description,
				Actor:        actor,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	ws.logger.Info("Credit payment recorded",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.Int64("amount", amount))
	return entry, nil
}

// Debit charges an order total against the wallet. The deposit balance is
// depleted first, any remainder draws on the credit line; that ordering is
// a business rule and directly drives credit exposure reporting. The check
// and the split happen under the per-wallet row lock, so concurrent debits
// can never double-spend the same funds.
func (ws *WalletService) Debit(ctx context.Context, tenantID, customerID string, amount int64, orderID string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.Debit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WalletDebitLatency.Observe(time.Since(start).Seconds())
	}()

	if amount <= 0 {
		util.WalletDebitsFailedTotal.WithLabelValues("invalid_amount").Inc()
		return nil, models.ErrInvalidAmount
	}

	_, entry, err := ws.ledger.UpdateWallet(ctx, tenantID, customerID,
		func(w *models.Wallet) (*models.WalletTransaction, error) {
			if amount > w.TotalAvailable() {
				return nil, &models.InsufficientFundsError{
					TenantID:   tenantID,
					CustomerID: customerID,
					Available:  w.TotalAvailable(),
					Requested:  amount,
				}
			}

			fromDeposit := amount
			if w.DepositBalance < fromDeposit {
				fromDeposit = w.DepositBalance
			}
			w.DepositBalance -= fromDeposit
			w.CreditUsed += amount - fromDeposit

			oid := orderID
			return &models.WalletTransaction{
				ID:           uuid.New().String(),
				Type:         models.TxTypePurchaseDebit,
				Amount:       -amount,
				BalanceAfter: w.DepositBalance,
				Description:  "purchase",
				OrderID:      &oid,
				Actor:        customerID,
			}, nil
		})
	if err != nil {
		if models.IsBusinessError(err) {
			util.WalletDebitsFailedTotal.WithLabelValues("insufficient_funds").Inc()
		} else {
			util.WalletDebitsFailedTotal.WithLabelValues("storage_error").Inc()
		}
		return nil, err
	}

	util.WalletDebitsTotal.Inc()
	ws.logger.Info("Wallet debited",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount))
	return entry, nil
}

// Refund reverses a prior debit of the same amount as a compensating
// transaction: the credit portion is restored first, the remainder goes
// back to the deposit balance, so a debit followed by its refund leaves
// both balances exactly where they started.
func (ws *WalletService) Refund(ctx context.Context, tenantID, customerID string, amount int64, orderID string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.Refund")
	defer span.End()

	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	_, entry, err := ws.ledger.UpdateWallet(ctx, tenantID, customerID,
		func(w *models.Wallet) (*models.WalletTransaction, error) {
			fromCredit := amount
			if w.CreditUsed < fromCredit {
				fromCredit = w.CreditUsed
			}
			w.CreditUsed -= fromCredit
			w.DepositBalance += amount - fromCredit

			oid := orderID
			return &models.WalletTransaction{
				ID:           uuid.New().String(),
				Type:         models.TxTypeRefund,
				Amount:       amount,
				BalanceAfter: w.DepositBalance,
				Description:  "fulfillment rollback",
				OrderID:      &oid,
				Actor:        "system",
			}, nil
		})
	if err != nil {
		return nil, err
	}

	util.WalletRefundsTotal.Inc()
	ws.logger.Warn("Wallet refunded",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount))
	return entry, nil
}
