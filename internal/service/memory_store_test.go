package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfillment-service/internal/models"
)

// In-memory store implementations for service tests. They honor the same
// contracts as the Postgres store: per-wallet and per-pool serialization,
// all-or-nothing mutations, FIFO key selection.

type memLedger struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	txs     map[string][]models.WalletTransaction
	nextID  int64

	// failNext, when set, makes the next UpdateWallet fail with this error
	// after taking the lock. Used to simulate storage outages.
	failNext error
}

func newMemLedger() *memLedger {
	return &memLedger{
		wallets: make(map[string]*models.Wallet),
		txs:     make(map[string][]models.WalletTransaction),
	}
}

func walletKey(tenantID, customerID string) string {
	return tenantID + "|" + customerID
}

func (m *memLedger) getOrCreateLocked(tenantID, customerID string) *models.Wallet {
	key := walletKey(tenantID, customerID)
	w, ok := m.wallets[key]
	if !ok {
		m.nextID++
		w = &models.Wallet{
			ID:         m.nextID,
			TenantID:   tenantID,
			CustomerID: customerID,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		m.wallets[key] = w
	}
	return w
}

func (m *memLedger) GetOrCreateWallet(_ context.Context, tenantID, customerID string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := *m.getOrCreateLocked(tenantID, customerID)
	return &w, nil
}

func (m *memLedger) UpdateWallet(
	_ context.Context,
	tenantID, customerID string,
	fn func(w *models.Wallet) (*models.WalletTransaction, error),
) (*models.Wallet, *models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, nil, err
	}

	stored := m.getOrCreateLocked(tenantID, customerID)
	candidate := *stored

	entry, err := fn(&candidate)
	if err != nil {
		return nil, nil, err
	}

	candidate.UpdatedAt = time.Now().UTC()
	*stored = candidate

	entry.WalletID = candidate.ID
	entry.CreatedAt = candidate.UpdatedAt
	key := walletKey(tenantID, customerID)
	m.txs[key] = append(m.txs[key], *entry)

	result := candidate
	return &result, entry, nil
}

func (m *memLedger) ListTransactions(_ context.Context, tenantID, customerID string) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.txs[walletKey(tenantID, customerID)]
	out := make([]models.WalletTransaction, len(src))
	copy(out, src)
	return out, nil
}

type memPool struct {
	mu     sync.Mutex
	cfgs   map[int64]bool
	keys   []*models.LicenseKey
	nextID int64

	failNext error
}

func newMemPool() *memPool {
	return &memPool{cfgs: make(map[int64]bool)}
}

func (m *memPool) GetStock(_ context.Context, productID int64) (*models.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stock := &models.Stock{ProductID: productID}
	for _, k := range m.keys {
		if k.ProductID != productID {
			continue
		}
		stock.Total++
		if k.State == models.KeyStateAvailable {
			stock.Available++
		} else {
			stock.Consumed++
		}
	}
	return stock, nil
}

func (m *memPool) GetPoolConfig(_ context.Context, productID int64) (*models.KeyPoolConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.KeyPoolConfig{
		ProductID:          productID,
		AllowDuplicateKeys: m.cfgs[productID],
	}, nil
}

func (m *memPool) SetPoolConfig(_ context.Context, productID int64, allowDuplicates bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfgs[productID] = allowDuplicates
	return nil
}

func (m *memPool) ImportKeys(_ context.Context, productID int64, keyValues []string, allowDuplicates bool) (*models.ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allow := allowDuplicates || m.cfgs[productID]
	existing := map[string]bool{}
	for _, k := range m.keys {
		if k.ProductID == productID {
			existing[k.KeyValue] = true
		}
	}

	result := &models.ImportResult{Added: []string{}, Duplicates: []string{}}
	for _, value := range keyValues {
		if !allow && existing[value] {
			result.Duplicates = append(result.Duplicates, value)
			continue
		}
		m.nextID++
		m.keys = append(m.keys, &models.LicenseKey{
			ID:        m.nextID,
			ProductID: productID,
			KeyValue:  value,
			State:     models.KeyStateAvailable,
			CreatedAt: time.Now().UTC(),
		})
		existing[value] = true
		result.Added = append(result.Added, value)
	}
	return result, nil
}

func (m *memPool) AllocateKeys(_ context.Context, productID int64, quantity int, orderID string) ([]models.LicenseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}

	var candidates []*models.LicenseKey
	for _, k := range m.keys {
		if k.ProductID == productID && k.State == models.KeyStateAvailable {
			candidates = append(candidates, k)
			if len(candidates) == quantity {
				break
			}
		}
	}

	if len(candidates) < quantity {
		return nil, &models.InsufficientStockError{
			ProductID: productID,
			Available: len(candidates),
			Requested: quantity,
		}
	}

	now := time.Now().UTC()
	out := make([]models.LicenseKey, 0, quantity)
	for _, k := range candidates {
		k.State = models.KeyStateAllocated
		oid := orderID
		at := now
		k.AllocatedToOrderID = &oid
		k.AllocatedAt = &at
		out = append(out, *k)
	}
	return out, nil
}

func (m *memPool) ReleaseKeys(_ context.Context, productID int64, orderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, k := range m.keys {
		if k.ProductID == productID && k.State == models.KeyStateAllocated &&
			k.AllocatedToOrderID != nil && *k.AllocatedToOrderID == orderID {
			k.State = models.KeyStateAvailable
			k.AllocatedToOrderID = nil
			k.AllocatedAt = nil
			released++
		}
	}
	return released, nil
}

func (m *memPool) RemoveKey(_ context.Context, keyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, k := range m.keys {
		if k.ID != keyID {
			continue
		}
		if k.State != models.KeyStateAvailable {
			return models.ErrKeyAlreadyAllocated
		}
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
		return nil
	}
	return models.ErrKeyNotFound
}

// importN seeds a pool with n sequentially named keys.
func importN(m *memPool, productID int64, n int) {
	values := make([]string, n)
	for i := range values {
		values[i] = fmt.Sprintf("KEY-%d-%04d", productID, i)
	}
	_, _ = m.ImportKeys(context.Background(), productID, values, false)
}
