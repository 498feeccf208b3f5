package models

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are always returned as typed results to the
// caller, never logged and swallowed, and never presented as generic
// infrastructure errors.
var (
	// ErrInvalidAmount rejects non-positive amounts before any lock is taken.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds means the wallet cannot cover a debit. Wrapped by
	// InsufficientFundsError which carries the numbers.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientStock means a pool has fewer available keys than
	// requested. Wrapped by InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrKeyAlreadyAllocated rejects removal or re-allocation of a key that
	// left the available state.
	ErrKeyAlreadyAllocated = errors.New("license key already allocated")

	// ErrKeyNotFound is returned for operations on unknown key ids.
	ErrKeyNotFound = errors.New("license key not found")
)

// Transient infrastructure failures. Retryable; callers must never read
// these as business failures (e.g. a storage timeout is not "insufficient
// funds").
var (
	ErrLockTimeout        = errors.New("lock wait timed out")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InsufficientFundsError carries enough detail for the order workflow to
// render a clear "insufficient balance" message.
type InsufficientFundsError struct {
	TenantID   string
	CustomerID string
	Available  int64
	Requested  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available=%d, requested=%d", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientStockError identifies which product ran out and how many keys
// were left.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IsBusinessError reports whether err is a business-rule failure rather
// than an infrastructure one.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrKeyAlreadyAllocated) ||
		errors.Is(err, ErrKeyNotFound)
}

// IsRetryable reports whether err is a transient storage failure that the
// caller may safely retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStorageUnavailable)
}
