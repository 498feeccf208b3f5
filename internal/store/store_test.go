package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_NilPassesThrough(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassify_LockNotAvailableBecomesLockTimeout(t *testing.T) {
	err := classify(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	assert.ErrorIs(t, err, models.ErrLockTimeout)
	assert.True(t, models.IsRetryable(err))
	assert.False(t, models.IsBusinessError(err))
}

func TestClassify_ConnectionClassesBecomeStorageUnavailable(t *testing.T) {
	codes := []pq.ErrorCode{"08006", "08004", "08P01", "57P01", "57014", "57P03"}

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			err := classify(&pq.Error{Code: code})
			assert.ErrorIs(t, err, models.ErrStorageUnavailable)
			assert.True(t, models.IsRetryable(err))
		})
	}
}

func TestClassify_OtherPqErrorsPassThrough(t *testing.T) {
	orig := &pq.Error{Code: "23505", Message: "duplicate key value"}
	err := classify(orig)
	assert.Same(t, error(orig), err)
	assert.False(t, models.IsRetryable(err))
}

func TestClassify_DriverAndNetworkFailures(t *testing.T) {
	assert.ErrorIs(t, classify(driver.ErrBadConn), models.ErrStorageUnavailable)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), models.ErrStorageUnavailable)
	assert.ErrorIs(t,
		classify(&net.OpError{Op: "dial", Err: errors.New("connection refused")}),
		models.ErrStorageUnavailable)
}

func TestClassify_BusinessErrorsAreNeverReclassified(t *testing.T) {
	fundsErr := &models.InsufficientFundsError{Available: 100, Requested: 200}
	assert.Same(t, error(fundsErr), classify(fundsErr))

	stockErr := &models.InsufficientStockError{ProductID: 1, Available: 0, Requested: 2}
	assert.Same(t, error(stockErr), classify(stockErr))

	assert.Equal(t, models.ErrInvalidAmount, classify(models.ErrInvalidAmount))
}

func TestClassify_UnknownErrorsPassThrough(t *testing.T) {
	err := errors.New("boom")
	assert.Same(t, err, classify(err))
}

func keyBatch(n int) []models.LicenseKey {
	keys := make([]models.LicenseKey, n)
	for i := range keys {
		keys[i] = models.LicenseKey{ID: int64(i + 1)}
	}
	return keys
}

func TestSelectUpToQuantity_FullResultReturnsImmediately(t *testing.T) {
	calls := 0
	keys, err := selectUpToQuantity(func() ([]models.LicenseKey, error) {
		calls++
		return keyBatch(3), nil
	}, 3)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Equal(t, 1, calls)
}

func TestSelectUpToQuantity_RetriesShortResultFromRacedSelect(t *testing.T) {
	// First attempt comes back short, as when a competing allocator claimed
	// rows while this select was blocked. The re-select sees the refilled
	// committed state.
	results := [][]models.LicenseKey{keyBatch(1), keyBatch(3)}
	calls := 0
	keys, err := selectUpToQuantity(func() ([]models.LicenseKey, error) {
		r := results[calls]
		calls++
		return r, nil
	}, 3)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Equal(t, 2, calls)
}

func TestSelectUpToQuantity_GenuineShortageStopsAfterBoundedAttempts(t *testing.T) {
	calls := 0
	keys, err := selectUpToQuantity(func() ([]models.LicenseKey, error) {
		calls++
		return keyBatch(2), nil
	}, 5)
	require.NoError(t, err)
	assert.Len(t, keys, 2, "the short result is reported so the caller can fail with the real count")
	assert.Equal(t, maxSelectAttempts, calls)
}

func TestSelectUpToQuantity_FetchErrorAborts(t *testing.T) {
	boom := fmt.Errorf("select: %w", models.ErrStorageUnavailable)
	_, err := selectUpToQuantity(func() ([]models.LicenseKey, error) {
		return nil, boom
	}, 3)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}
