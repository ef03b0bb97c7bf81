package domain

import (
	"errors"
	"time"
)

var ErrPinNotFound = errors.New("no unused pin for package")

type PinSource string

const (
	SourceManual     PinSource = "manual"
	SourceLocalStock PinSource = "local_stock"
	SourceVendor     PinSource = "vendor_api"
)

// Pin is one row of the inventory table. Vendor-sourced rows are stored
// already used and only exist for audit.
type Pin struct {
	ID        int64
	PackageID int
	Code      string
	Source    PinSource
	Used      bool
	CreatedAt time.Time
	UsedAt    *time.Time
}

type DedupePolicy string

const (
	KeepOldest DedupePolicy = "keep_oldest"
	KeepNewest DedupePolicy = "keep_newest"
)

func (p DedupePolicy) Valid() bool {
	return p == KeepOldest || p == KeepNewest
}

// MaskCode hides the middle of a code for logs.
func MaskCode(code string) string {
	if len(code) <= 8 {
		return "****"
	}
	return code[:4] + "****" + code[len(code)-4:]
}
