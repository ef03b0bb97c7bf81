package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultPurchaseRetention = 20

type PurchaseRecord struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	PackageID     int             `json:"package_id"`
	ControlNumber string          `json:"control_number"`
	TransactionID string          `json:"transaction_id"`
	Pins          []string        `json:"pins"`
	Quantity      int             `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"` // negative: money leaving the buyer
	CreatedAt     time.Time       `json:"created_at"`

	// Held is what was taken from the wallet before allocation. Saving the
	// record returns Held + Amount to the wallet.
	Held decimal.Decimal `json:"-"`
}

// Refund is the part of the hold not spent on obtained pins.
func (r PurchaseRecord) Refund() decimal.Decimal {
	return r.Held.Add(r.Amount)
}

type PurchaseCompleted struct {
	RequestID     string           `json:"request_id"`
	UserID        string           `json:"user_id"`
	PackageID     int              `json:"package_id"`
	TransactionID string           `json:"transaction_id"`
	Requested     int              `json:"requested"`
	Obtained      int              `json:"obtained"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        AllocationStatus `json:"status"`
	CompletedAt   time.Time        `json:"completed_at"`
}
