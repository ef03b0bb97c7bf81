package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

type InventoryRepository interface {
	// Count returns the number of unused pins for a package
	Count(ctx context.Context, packageID int) (int, error)

	// CountAll returns unused pin counts keyed by package ID
	CountAll(ctx context.Context) (map[int]int, error)

	// ClaimOne atomically removes and returns one unused pin, domain.ErrPinNotFound if none remain
	ClaimOne(ctx context.Context, packageID int) (domain.Pin, error)

	// BulkInsert stores trimmed, non-empty codes and returns how many were inserted
	BulkInsert(ctx context.Context, packageID int, codes []string) (int, error)

	// RecordVendorPin keeps an already-used audit row for a vendor-sourced code
	RecordVendorPin(ctx context.Context, packageID int, code string) error

	// RemoveDuplicates deletes duplicate unused (package, code) rows according to policy
	RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error)
}

type PackageRepository interface {
	Get(ctx context.Context, id int) (domain.Package, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Package, error)
	UpdatePrice(ctx context.Context, id int, price decimal.Decimal) error

	// Seed inserts packages that do not exist yet
	Seed(ctx context.Context, packages []domain.Package) error
}

type PurchaseRepository interface {
	// Create persists a record, trims the user's history to retention rows and
	// returns record.Refund() to the buyer's wallet, all in one transaction
	Create(ctx context.Context, record *domain.PurchaseRecord, retention int) error

	ListByUser(ctx context.Context, userID string, limit int) ([]domain.PurchaseRecord, error)
}

type WalletRepository interface {
	// Get returns the wallet, a zero balance if the user has none yet
	Get(ctx context.Context, userID string) (domain.Wallet, error)

	// Credit adds amount, logs the top-up and trims the log to retention rows
	Credit(ctx context.Context, userID string, amount decimal.Decimal, retention int) (domain.Wallet, error)

	// Hold atomically takes amount, domain.ErrInsufficientBalance if the balance is short
	Hold(ctx context.Context, userID string, amount decimal.Decimal) error

	// Refund gives back (part of) a hold
	Refund(ctx context.Context, userID string, amount decimal.Decimal) error

	ListCredits(ctx context.Context, userID string, limit int) ([]domain.WalletCredit, error)
}
