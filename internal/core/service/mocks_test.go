package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

// Mock InventoryRepository
type mockInventory struct {
	mu           sync.Mutex
	pins         map[int][]string
	vendorPins   map[int][]string
	claimErr     error
	countErr     error
	mutations    int
	dedupePolicy domain.DedupePolicy
	dedupeResult int64
}

func newMockInventory() *mockInventory {
	return &mockInventory{
		pins:       make(map[int][]string),
		vendorPins: make(map[int][]string),
	}
}

func (m *mockInventory) seed(packageID int, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[packageID] = append(m.pins[packageID], codes...)
}

func (m *mockInventory) seedN(packageID, n int) {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("LOCAL%d%07d", packageID, i)
	}
	m.seed(packageID, codes...)
}

func (m *mockInventory) count(packageID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pins[packageID])
}

func (m *mockInventory) Count(ctx context.Context, packageID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.pins[packageID]), nil
}

func (m *mockInventory) CountAll(ctx context.Context) (map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]int, len(m.pins))
	for id, codes := range m.pins {
		out[id] = len(codes)
	}
	return out, nil
}

func (m *mockInventory) ClaimOne(ctx context.Context, packageID int) (domain.Pin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return domain.Pin{}, m.claimErr
	}
	codes := m.pins[packageID]
	if len(codes) == 0 {
		return domain.Pin{}, domain.ErrPinNotFound
	}
	m.pins[packageID] = codes[1:]
	m.mutations++
	return domain.Pin{PackageID: packageID, Code: codes[0], Source: domain.SourceManual}, nil
}

func (m *mockInventory) BulkInsert(ctx context.Context, packageID int, codes []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		m.pins[packageID] = append(m.pins[packageID], c)
		n++
	}
	m.mutations++
	return n, nil
}

func (m *mockInventory) RecordVendorPin(ctx context.Context, packageID int, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendorPins[packageID] = append(m.vendorPins[packageID], code)
	m.mutations++
	return nil
}

func (m *mockInventory) RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupePolicy = policy
	return m.dedupeResult, nil
}

// Mock VendorClient
type mockVendor struct {
	mu        sync.Mutex
	available bool
	checkErr  error
	failOn    int // calls numbered from 1; 0 means never fail
	failErr   error
	requests  int
	checks    int
}

func (m *mockVendor) RequestCode(ctx context.Context, packageID int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if m.failOn > 0 && m.requests >= m.failOn {
		return "", m.failErr
	}
	return fmt.Sprintf("VEND%d%08d", packageID, m.requests), nil
}

func (m *mockVendor) CheckAvailability(ctx context.Context, packageID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.available, nil
}

// Mock PackageRepository
type mockPackages struct {
	mu     sync.Mutex
	items  map[int]domain.Package
	getErr error
	seeded []domain.Package
}

func newMockPackages() *mockPackages {
	items := make(map[int]domain.Package)
	for _, p := range domain.DefaultPackages() {
		items[p.ID] = p
	}
	return &mockPackages{items: items}
}

func (m *mockPackages) Get(ctx context.Context, id int) (domain.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Package{}, m.getErr
	}
	p, ok := m.items[id]
	if !ok {
		return domain.Package{}, domain.ErrPackageNotFound
	}
	return p, nil
}

func (m *mockPackages) List(ctx context.Context, activeOnly bool) ([]domain.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Package, 0, len(m.items))
	for _, p := range m.items {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockPackages) UpdatePrice(ctx context.Context, id int, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return domain.ErrPackageNotFound
	}
	p.Price = price
	m.items[id] = p
	return nil
}

func (m *mockPackages) Seed(ctx context.Context, packages []domain.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded = append(m.seeded, packages...)
	return nil
}

// Mock PurchaseRepository; settles holds against wallets like the MySQL adapter
type mockPurchases struct {
	mu        sync.Mutex
	records   []domain.PurchaseRecord
	createErr error
	retention int
	nextID    int64
	wallets   *mockWallets
}

func (m *mockPurchases) Create(ctx context.Context, record *domain.PurchaseRecord, retention int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	record.ID = m.nextID
	m.retention = retention
	m.records = append(m.records, *record)

	var kept []domain.PurchaseRecord
	seen := 0
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.UserID == record.UserID {
			seen++
			if seen > retention {
				continue
			}
		}
		kept = append([]domain.PurchaseRecord{r}, kept...)
	}
	m.records = kept

	if refund := record.Refund(); m.wallets != nil && record.Held.IsPositive() && refund.IsPositive() {
		return m.wallets.Refund(ctx, record.UserID, refund)
	}
	return nil
}

func (m *mockPurchases) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PurchaseRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	idempotencySet map[string]bool
	released       []string
	mu             sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

// Mock WalletRepository
type mockWallets struct {
	mu       sync.Mutex
	initial  decimal.Decimal // balance of a user seen for the first time
	balances map[string]decimal.Decimal
	credits  map[string][]domain.WalletCredit
	holdErr  error
	holds    int
	refunds  int
	nextID   int64
}

func newMockWallets(initial string) *mockWallets {
	return &mockWallets{
		initial:  decimal.RequireFromString(initial),
		balances: make(map[string]decimal.Decimal),
		credits:  make(map[string][]domain.WalletCredit),
	}
}

func (m *mockWallets) balanceLocked(userID string) decimal.Decimal {
	b, ok := m.balances[userID]
	if !ok {
		b = m.initial
		m.balances[userID] = b
	}
	return b
}

func (m *mockWallets) balance(userID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(userID)
}

func (m *mockWallets) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Wallet{UserID: userID, Balance: m.balanceLocked(userID)}, nil
}

func (m *mockWallets) Credit(ctx context.Context, userID string, amount decimal.Decimal, retention int) (domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balanceLocked(userID).Add(amount)
	m.balances[userID] = b

	m.nextID++
	credits := append([]domain.WalletCredit{{ID: m.nextID, UserID: userID, Amount: amount}}, m.credits[userID]...)
	if len(credits) > retention {
		credits = credits[:retention]
	}
	m.credits[userID] = credits
	return domain.Wallet{UserID: userID, Balance: b}, nil
}

func (m *mockWallets) Hold(ctx context.Context, userID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdErr != nil {
		return m.holdErr
	}
	b := m.balanceLocked(userID)
	if b.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	m.balances[userID] = b.Sub(amount)
	m.holds++
	return nil
}

func (m *mockWallets) Refund(ctx context.Context, userID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balanceLocked(userID).Add(amount)
	m.refunds++
	return nil
}

func (m *mockWallets) ListCredits(ctx context.Context, userID string, limit int) ([]domain.WalletCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credits := m.credits[userID]
	if len(credits) > limit {
		credits = credits[:limit]
	}
	return credits, nil
}
