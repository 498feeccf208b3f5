package service

import (
	"context"

	"fulfillment-service/internal/models"
)

// LedgerStore is the durable, transactional storage for wallets and the
// append-only transaction log. The Wallet Service is the only permitted
// mutator; other collaborators only see read projections.
type LedgerStore interface {
	// GetOrCreateWallet lazily creates a zero-balance wallet on first access.
	GetOrCreateWallet(ctx context.Context, tenantID, customerID string) (*models.Wallet, error)

	// UpdateWallet applies fn to the wallet under a per-wallet lock and
	// persists the mutated wallet together with the returned transaction as
	// one atomic unit. An error from fn rolls the whole operation back.
	UpdateWallet(ctx context.Context, tenantID, customerID string,
		fn func(w *models.Wallet) (*models.WalletTransaction, error)) (*models.Wallet, *models.WalletTransaction, error)

	// ListTransactions returns the wallet's ledger, oldest first.
	ListTransactions(ctx context.Context, tenantID, customerID string) ([]models.WalletTransaction, error)
}

// KeyPoolStore is the durable storage for per-product license keys and
// their allocation state. The Allocation Service is the only permitted
// mutator.
type KeyPoolStore interface {
	GetStock(ctx context.Context, productID int64) (*models.Stock, error)
	GetPoolConfig(ctx context.Context, productID int64) (*models.KeyPoolConfig, error)
	SetPoolConfig(ctx context.Context, productID int64, allowDuplicates bool) error

	// ImportKeys inserts candidate values, reporting (not failing on)
	// duplicates according to the pool policy or the explicit override.
	ImportKeys(ctx context.Context, productID int64, keyValues []string, allowDuplicates bool) (*models.ImportResult, error)

	// AllocateKeys claims exactly quantity available keys FIFO, or none.
	AllocateKeys(ctx context.Context, productID int64, quantity int, orderID string) ([]models.LicenseKey, error)

	// ReleaseKeys is the compensation path returning an order's keys to
	// the pool. Returns the number of keys released.
	ReleaseKeys(ctx context.Context, productID int64, orderID string) (int, error)

	RemoveKey(ctx context.Context, keyID int64) error
}
