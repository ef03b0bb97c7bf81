package port

import "context"

// VendorClient mints codes on demand. Every error it returns is a *domain.VendorError.
type VendorClient interface {
	RequestCode(ctx context.Context, packageID int) (string, error)
	CheckAvailability(ctx context.Context, packageID int) (bool, error)
}
