package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsufficientFundsError_UnwrapsToSentinel(t *testing.T) {
	var err error = &InsufficientFundsError{
		TenantID:   "acme",
		CustomerID: "cust-1",
		Available:  10_000,
		Requested:  12_000,
	}

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "available=10000")
	assert.Contains(t, err.Error(), "requested=12000")

	var detail *InsufficientFundsError
	assert.ErrorAs(t, fmt.Errorf("debit: %w", err), &detail)
	assert.Equal(t, "acme", detail.TenantID)
}

func TestInsufficientStockError_UnwrapsToSentinel(t *testing.T) {
	var err error = &InsufficientStockError{ProductID: 7, Available: 2, Requested: 5}

	assert.ErrorIs(t, err, ErrInsufficientStock)

	var detail *InsufficientStockError
	assert.ErrorAs(t, err, &detail)
	assert.Equal(t, int64(7), detail.ProductID)
}

func TestIsBusinessError_SeparatesBusinessFromInfrastructure(t *testing.T) {
	assert.True(t, IsBusinessError(ErrInvalidAmount))
	assert.True(t, IsBusinessError(&InsufficientFundsError{}))
	assert.True(t, IsBusinessError(&InsufficientStockError{}))
	assert.True(t, IsBusinessError(ErrKeyAlreadyAllocated))
	assert.True(t, IsBusinessError(fmt.Errorf("remove: %w", ErrKeyNotFound)))

	assert.False(t, IsBusinessError(ErrLockTimeout))
	assert.False(t, IsBusinessError(ErrStorageUnavailable))
	assert.False(t, IsBusinessError(errors.New("boom")))
}

func TestIsRetryable_OnlyTransientStorageFailures(t *testing.T) {
	assert.True(t, IsRetryable(ErrLockTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("tx: %w", ErrStorageUnavailable)))

	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.False(t, IsRetryable(errors.New("boom")))
}
