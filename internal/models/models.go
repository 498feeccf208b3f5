package models

import (
	"time"
)

// All monetary amounts are int64 minor units (cents, fening, ...). The
// tenant decides the currency; amounts never cross tenants.

// Wallet holds a customer's prepaid deposit and revolving credit line.
// Balances are only ever mutated through WalletTransaction application;
// no code updates a balance without appending a matching transaction.
type Wallet struct {
	ID             int64     `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	CustomerID     string    `db:"customer_id" json:"customer_id"`
	DepositBalance int64     `db:"deposit_balance" json:"deposit_balance"`
	CreditLimit    int64     `db:"credit_limit" json:"credit_limit"`
	CreditUsed     int64     `db:"credit_used" json:"credit_used"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableCredit returns the undrawn portion of the credit line.
// Never negative, even when the wallet is overlimit.
func (w *Wallet) AvailableCredit() int64 {
	if w.CreditUsed >= w.CreditLimit {
		return 0
	}
	return w.CreditLimit - w.CreditUsed
}

// TotalAvailable is the maximum amount a single debit may charge.
func (w *Wallet) TotalAvailable() int64 {
	return w.DepositBalance + w.AvailableCredit()
}

// IsOverlimit reports the fault state where drawn credit exceeds the limit.
// This can happen when an admin lowers the limit; it is surfaced, never
// silently corrected.
func (w *Wallet) IsOverlimit() bool {
	return w.CreditUsed > w.CreditLimit
}

// Transaction types
const (
	TxTypeDeposit       = "deposit"
	TxTypeCreditLimit   = "credit_limit"
	TxTypeCreditPayment = "credit_payment"
	TxTypePurchaseDebit = "purchase_debit"
	TxTypeAdjustment    = "adjustment"
	TxTypeRefund        = "refund"
)

// WalletTransaction is an immutable ledger entry. Rows are append-only:
// never updated, never deleted. Replaying a wallet's transactions from zero
// reproduces its current deposit balance and credit used exactly.
type WalletTransaction struct {
	ID           string    `db:"id" json:"id"`
	WalletID     int64     `db:"wallet_id" json:"wallet_id"`
	Type         string    `db:"type" json:"type"`
	Amount       int64     `db:"amount" json:"amount"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description,omitempty"`
	OrderID      *string   `db:"order_id" json:"order_id,omitempty"`
	Actor        string    `db:"actor" json:"actor"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// License key states
const (
	KeyStateAvailable = "available"
	KeyStateAllocated = "allocated"
)

// LicenseKey is a single-use activation code belonging to one product's
// pool. The only transition in this engine is available -> allocated; a key
// is never reused after a successful order, even if that order is later
// refunded.
type LicenseKey struct {
	ID                 int64      `db:"id" json:"id"`
	ProductID          int64      `db:"product_id" json:"product_id"`
	KeyValue           string     `db:"key_value" json:"key_value"`
	State              string     `db:"state" json:"state"`
	AllocatedToOrderID *string    `db:"allocated_to_order_id" json:"allocated_to_order_id,omitempty"`
	AllocatedAt        *time.Time `db:"allocated_at" json:"allocated_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// KeyPoolConfig is per-product allocation policy, stored as data so a
// policy change does not need a redeploy.
type KeyPoolConfig struct {
	ProductID          int64     `db:"product_id" json:"product_id"`
	AllowDuplicateKeys bool      `db:"allow_duplicate_keys" json:"allow_duplicate_keys"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Stock is the read projection over a product's key pool.
type Stock struct {
	ProductID int64 `db:"product_id" json:"product_id"`
	Total     int   `db:"total" json:"total"`
	Available int   `db:"available" json:"available"`
	Consumed  int   `db:"consumed" json:"consumed"`
}

// ImportResult reports the outcome of a bulk key import. Duplicates are
// not a batch failure; they are reported so the caller can confirm an
// explicit override.
type ImportResult struct {
	Added      []string `json:"added"`
	Duplicates []string `json:"duplicates"`
}

// Payment methods
const (
	PaymentMethodWallet = "wallet"
)

// LineItem is one (product, quantity, unit price) entry of an order.
type LineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// AllocatedLine groups the keys handed out for one line item.
type AllocatedLine struct {
	ProductID int64        `json:"product_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unit_price"`
	Keys      []LicenseKey `json:"keys"`
}

// FulfillmentResult is the outcome of a successful FulfillOrder call.
type FulfillmentResult struct {
	OrderID     string             `json:"order_id"`
	TotalAmount int64              `json:"total_amount"`
	Transaction *WalletTransaction `json:"transaction,omitempty"`
	Lines       []AllocatedLine    `json:"lines"`
}
