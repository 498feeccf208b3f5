package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateWallet returns the wallet for (tenant, customer), creating a
// zero-balance row on first access.
func (s *Store) GetOrCreateWallet(ctx context.Context, tenantID, customerID string) (*models.Wallet, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (tenant_id, customer_id)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, customer_id) DO NOTHING`,
		tenantID, customerID)
	if err != nil {
		return nil, classify(err)
	}

	var wallet models.Wallet
	err = s.db.GetContext(ctx, &wallet,
		"SELECT * FROM wallets WHERE tenant_id = $1 AND customer_id = $2",
		tenantID, customerID)
	if err != nil {
		return nil, classify(err)
	}
	return &wallet, nil
}

// UpdateWallet loads the wallet under a row-level lock, applies fn to it
// and persists the result together with the transaction fn returns, as one
// atomic unit. fn may mutate the wallet's balances; returning an error
// rolls everything back with no state change visible outside the lock.
//
// Concurrent updates of the same (tenant, customer) are strictly
// serialized by the FOR UPDATE lock; different wallets proceed in
// parallel.
func (s *Store) UpdateWallet(
	ctx context.Context,
	tenantID, customerID string,
	fn func(w *models.Wallet) (*models.WalletTransaction, error),
) (*models.Wallet, *models.WalletTransaction, error) {
	if _, err := s.GetOrCreateWallet(ctx, tenantID, customerID); err != nil {
		return nil, nil, err
	}

	var wallet models.Wallet
	var entry *models.WalletTransaction

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &wallet,
			"SELECT * FROM wallets WHERE tenant_id = $1 AND customer_id = $2 FOR UPDATE",
			tenantID, customerID)
		if err != nil {
			return classify(err)
		}

		entry, err = fn(&wallet)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		wallet.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE wallets
			SET deposit_balance = $1, credit_limit = $2, credit_used = $3, updated_at = $4
			WHERE id = $5`,
			wallet.DepositBalance, wallet.CreditLimit, wallet.CreditUsed, now, wallet.ID)
		if err != nil {
			return classify(err)
		}

		entry.WalletID = wallet.ID
		entry.CreatedAt = now
		return classify(s.insertTransaction(ctx, tx, entry))
	})
	if err != nil {
		return nil, nil, err
	}
	return &wallet, entry, nil
}

func (s *Store) insertTransaction(ctx context.Context, tx *sqlx.Tx, entry *models.WalletTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, wallet_id, type, amount, balance_after, description, order_id, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.WalletID, entry.Type, entry.Amount, entry.BalanceAfter,
		entry.Description, entry.OrderID, entry.Actor, entry.CreatedAt)
	return err
}

// ListTransactions returns a wallet's full ledger, oldest first, so it can
// be replayed.
func (s *Store) ListTransactions(ctx context.Context, tenantID, customerID string) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT t.* FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.tenant_id = $1 AND w.customer_id = $2
		ORDER BY t.created_at, t.id`,
		tenantID, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return txs, nil
}
