package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetStock retrieves the aggregate key counts for a product. A product with
// no pool yet reads as empty stock.
func (s *Store) GetStock(ctx context.Context, productID int64) (*models.Stock, error) {
	stock := models.Stock{ProductID: productID}
	err := s.db.GetContext(ctx, &stock, `
		SELECT
			$1::bigint AS product_id,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE state = 'available') AS available,
			COUNT(*) FILTER (WHERE state = 'allocated') AS consumed
		FROM license_keys WHERE product_id = $1`,
		productID)
	if err != nil {
		return nil, classify(err)
	}
	return &stock, nil
}

// GetPoolConfig returns a product's allocation policy. Products without an
// explicit pool row fall back to the default (no duplicate key values).
func (s *Store) GetPoolConfig(ctx context.Context, productID int64) (*models.KeyPoolConfig, error) {
	var cfg models.KeyPoolConfig
	err := s.db.GetContext(ctx, &cfg,
		"SELECT * FROM license_key_pools WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.KeyPoolConfig{ProductID: productID}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &cfg, nil
}

// SetPoolConfig stores the per-product duplicate policy.
func (s *Store) SetPoolConfig(ctx context.Context, productID int64, allowDuplicates bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO license_key_pools (product_id, allow_duplicate_keys, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET allow_duplicate_keys = EXCLUDED.allow_duplicate_keys, updated_at = NOW()`,
		productID, allowDuplicates)
	return classify(err)
}

// ImportKeys inserts candidate key values into a product's pool. A value
// that already exists in the pool (in any state) is reported as a duplicate
// and skipped unless duplicates are allowed, either by the stored pool
// policy or by the caller's explicit override. Duplicates never fail the
// batch. Imports for the same product are serialized via the pool row lock.
func (s *Store) ImportKeys(ctx context.Context, productID int64, keyValues []string, allowDuplicates bool) (*models.ImportResult, error) {
	result := &models.ImportResult{
		Added:      []string{},
		Duplicates: []string{},
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cfg models.KeyPoolConfig
		err := tx.GetContext(ctx, &cfg, `
			INSERT INTO license_key_pools (product_id)
			VALUES ($1)
			ON CONFLICT (product_id) DO UPDATE SET product_id = EXCLUDED.product_id
			RETURNING *`,
			productID)
		if err != nil {
			return classify(err)
		}
		allow := allowDuplicates || cfg.AllowDuplicateKeys

		existing := map[string]bool{}
		if !allow {
			var values []string
			if err := tx.SelectContext(ctx, &values,
				"SELECT key_value FROM license_keys WHERE product_id = $1", productID); err != nil {
				return classify(err)
			}
			for _, v := range values {
				existing[v] = true
			}
		}

		now := time.Now().UTC()
		for _, value := range keyValues {
			if !allow && existing[value] {
				result.Duplicates = append(result.Duplicates, value)
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO license_keys (product_id, key_value, state, created_at)
				VALUES ($1, $2, 'available', $3)`,
				productID, value, now)
			if err != nil {
				return classify(err)
			}
			existing[value] = true
			result.Added = append(result.Added, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

const maxSelectAttempts = 3

// selectUpToQuantity re-runs fetch until it yields quantity rows or the
// attempts run out. Under READ COMMITTED a locking select that blocked on
// a concurrent allocator re-checks its rows once the blocker commits and
// drops claimed ones without refilling the LIMIT, so a short result can be
// a race artifact rather than a real shortage. A fresh select sees the new
// committed state and the true head of the queue.
func selectUpToQuantity(fetch func() ([]models.LicenseKey, error), quantity int) ([]models.LicenseKey, error) {
	var keys []models.LicenseKey
	for attempt := 0; attempt < maxSelectAttempts; attempt++ {
		var err error
		keys, err = fetch()
		if err != nil {
			return nil, err
		}
		if len(keys) >= quantity {
			break
		}
	}
	return keys, nil
}

// AllocateKeys atomically claims exactly quantity available keys for an
// order, oldest first. If fewer than quantity keys are available the whole
// allocation aborts with InsufficientStock and nothing is marked. The
// FOR UPDATE lock on the selected rows guarantees two concurrent calls are
// never handed overlapping keys.
func (s *Store) AllocateKeys(ctx context.Context, productID int64, quantity int, orderID string) ([]models.LicenseKey, error) {
	var keys []models.LicenseKey

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		keys, err = selectUpToQuantity(func() ([]models.LicenseKey, error) {
			var ks []models.LicenseKey
			err := tx.SelectContext(ctx, &ks, `
				SELECT * FROM license_keys
				WHERE product_id = $1 AND state = 'available'
				ORDER BY created_at, id
				LIMIT $2
				FOR UPDATE`,
				productID, quantity)
			return ks, classify(err)
		}, quantity)
		if err != nil {
			return err
		}

		if len(keys) < quantity {
			return &models.InsufficientStockError{
				ProductID: productID,
				Available: len(keys),
				Requested: quantity,
			}
		}

		ids := make([]int64, len(keys))
		for i := range keys {
			ids[i] = keys[i].ID
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE license_keys
			SET state = 'allocated', allocated_to_order_id = $1, allocated_at = $2
			WHERE id = ANY($3)`,
			orderID, now, pq.Array(ids))
		if err != nil {
			return classify(err)
		}

		for i := range keys {
			keys[i].State = models.KeyStateAllocated
			oid := orderID
			at := now
			keys[i].AllocatedToOrderID = &oid
			keys[i].AllocatedAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ReleaseKeys returns an order's allocated keys to the available state.
// Compensation path only; the normal key lifecycle is one-way.
func (s *Store) ReleaseKeys(ctx context.Context, productID int64, orderID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE license_keys
		SET state = 'available', allocated_to_order_id = NULL, allocated_at = NULL
		WHERE product_id = $1 AND allocated_to_order_id = $2 AND state = 'allocated'`,
		productID, orderID)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

// RemoveKey deletes a key that has not been allocated yet.
func (s *Store) RemoveKey(ctx context.Context, keyID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var state string
		err := tx.GetContext(ctx, &state,
			"SELECT state FROM license_keys WHERE id = $1 FOR UPDATE", keyID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrKeyNotFound
		}
		if err != nil {
			return classify(err)
		}
		if state != models.KeyStateAvailable {
			return models.ErrKeyAlreadyAllocated
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM license_keys WHERE id = $1", keyID)
		return classify(err)
	})
}
