package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/metrics"
	"github.com/rl1809/topup-pins/internal/port"
)

var errVendorNoStock = errors.New("vendor reports no stock")

type AllocatorConfig struct {
	// FallbackEnabled lets allocations fall back to the vendor.
	FallbackEnabled bool
}

// Allocator satisfies pin requests from local inventory first and then,
// when allowed, from the vendor API.
type Allocator struct {
	inventory port.InventoryRepository
	packages  port.PackageRepository
	vendor    port.VendorClient
	cfg       AllocatorConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewAllocator builds an Allocator. vendor may be nil, in which case only
// local stock is used.
func NewAllocator(inventory port.InventoryRepository, packages port.PackageRepository, vendor port.VendorClient, cfg AllocatorConfig, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		inventory: inventory,
		packages:  packages,
		vendor:    vendor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RequestPinWithFallback allocates quantity pins, falling back to the vendor
// for the shortfall when fallback is enabled.
func (a *Allocator) RequestPinWithFallback(ctx context.Context, packageID, quantity int) domain.Allocation {
	return a.allocate(ctx, packageID, quantity, a.fallbackUsable())
}

// RequestMultiple allocates quantity pins under the same fallback rule.
func (a *Allocator) RequestMultiple(ctx context.Context, packageID, quantity int) domain.Allocation {
	return a.allocate(ctx, packageID, quantity, a.fallbackUsable())
}

func (a *Allocator) fallbackUsable() bool {
	return a.vendor != nil && a.cfg.FallbackEnabled
}

// CheckCombinedAvailability reports local stock and vendor availability
// without touching inventory.
func (a *Allocator) CheckCombinedAvailability(ctx context.Context, packageID int) (domain.Availability, error) {
	av := domain.Availability{PackageID: packageID}

	if _, err := a.activePackage(ctx, packageID); err != nil {
		return av, err
	}

	local, err := a.inventory.Count(ctx, packageID)
	if err != nil {
		return av, fmt.Errorf("count local stock: %w", err)
	}
	av.LocalStock = local

	if a.vendor != nil {
		av.ExternalChecked = true
		ok, err := a.vendor.CheckAvailability(ctx, packageID)
		if err != nil {
			a.logger.Warn("vendor availability check failed", zap.Int("package_id", packageID), zap.Error(err))
		}
		av.ExternalAvailable = err == nil && ok
	}

	av.Available = av.LocalStock > 0 || av.ExternalAvailable
	return av, nil
}

func (a *Allocator) allocate(ctx context.Context, packageID, quantity int, useVendor bool) domain.Allocation {
	res := domain.Allocation{
		PackageID: packageID,
		Requested: quantity,
		Pins:      []domain.AllocatedPin{},
		Timestamp: a.now(),
	}

	if quantity <= 0 {
		return a.finish(res, domain.KindValidation, "quantity must be greater than zero")
	}

	if _, err := a.activePackage(ctx, packageID); err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			return a.finish(res, domain.KindValidation, fmt.Sprintf("unknown or inactive package %d", packageID))
		}
		a.logger.Error("package lookup failed", zap.Int("package_id", packageID), zap.Error(err))
		return a.finish(res, domain.KindUnexpected, "package lookup failed")
	}

	local, err := a.inventory.Count(ctx, packageID)
	if err != nil {
		a.logger.Error("local stock count failed", zap.Int("package_id", packageID), zap.Error(err))
		return a.finish(res, domain.KindUnexpected, "local stock count failed")
	}
	res.LocalStock = local

	if !useVendor && local < quantity {
		if local == 0 {
			return a.finish(res, domain.KindNoStock, "no stock available")
		}
		return a.finish(res, domain.KindInsufficientStock,
			fmt.Sprintf("insufficient stock: available %d, requested %d", local, quantity))
	}

	localErr := a.takeLocal(ctx, &res, min(quantity, local))

	var vendorErr error
	if res.Obtained() < quantity && useVendor {
		vendorErr = a.takeVendor(ctx, &res)
	}

	return a.classify(res, localErr, vendorErr)
}

func (a *Allocator) takeLocal(ctx context.Context, res *domain.Allocation, n int) error {
	for i := 0; i < n; i++ {
		pin, err := a.inventory.ClaimOne(ctx, res.PackageID)
		if errors.Is(err, domain.ErrPinNotFound) {
			a.logger.Warn("expected local pin not found",
				zap.Int("package_id", res.PackageID), zap.Int("iteration", i+1))
			return nil
		}
		if err != nil {
			a.logger.Error("claim local pin failed", zap.Int("package_id", res.PackageID), zap.Error(err))
			return err
		}
		res.Pins = append(res.Pins, domain.AllocatedPin{Code: pin.Code, Source: domain.SourceLocalStock})
	}
	return nil
}

// takeVendor stops at the first vendor failure; there is no retry.
func (a *Allocator) takeVendor(ctx context.Context, res *domain.Allocation) error {
	available, err := a.vendor.CheckAvailability(ctx, res.PackageID)
	if err != nil {
		return err
	}
	if !available {
		return errVendorNoStock
	}

	for res.Obtained() < res.Requested {
		code, err := a.vendor.RequestCode(ctx, res.PackageID)
		if err != nil {
			a.logger.Warn("vendor pin request failed",
				zap.Int("package_id", res.PackageID), zap.Int("obtained", res.Obtained()), zap.Error(err))
			return err
		}
		res.Pins = append(res.Pins, domain.AllocatedPin{Code: code, Source: domain.SourceVendor})

		if err := a.inventory.RecordVendorPin(ctx, res.PackageID, code); err != nil {
			a.logger.Error("failed to record vendor pin",
				zap.Int("package_id", res.PackageID), zap.String("pin", domain.MaskCode(code)), zap.Error(err))
		}
	}
	return nil
}

func (a *Allocator) classify(res domain.Allocation, localErr, vendorErr error) domain.Allocation {
	obtained := res.Obtained()
	switch {
	case obtained == res.Requested:
		return a.finish(res, domain.KindNone, "")
	case obtained > 0:
		return a.finish(res, domain.KindPartialStock,
			fmt.Sprintf("only obtained %d of %d pins", obtained, res.Requested))
	}

	if vendorErr != nil {
		var ve *domain.VendorError
		switch {
		case errors.Is(vendorErr, errVendorNoStock):
			return a.finish(res, domain.KindNoStockNoAPI, "no local stock and vendor has no stock")
		case errors.As(vendorErr, &ve) && ve.Unreachable():
			return a.finish(res, domain.KindNoStockNoAPI, "no local stock and vendor unreachable")
		case errors.As(vendorErr, &ve):
			return a.finish(res, domain.KindExternalAPIError, ve.Error())
		default:
			return a.finish(res, domain.KindUnexpected, vendorErr.Error())
		}
	}
	if localErr != nil {
		return a.finish(res, domain.KindUnexpected, "local stock unavailable")
	}
	return a.finish(res, domain.KindNoStock, "no stock available")
}

func (a *Allocator) finish(res domain.Allocation, kind domain.ErrorKind, msg string) domain.Allocation {
	switch {
	case kind == domain.KindNone:
		res.Status = domain.StatusSuccess
	case kind == domain.KindPartialStock:
		res.Status = domain.StatusPartialSuccess
	default:
		res.Status = domain.StatusFailure
	}
	res.Kind = kind
	res.Message = msg

	metrics.RecordAllocation(string(res.Status), string(kind))
	metrics.RecordPins(string(domain.SourceLocalStock), res.CountBySource(domain.SourceLocalStock))
	metrics.RecordPins(string(domain.SourceVendor), res.CountBySource(domain.SourceVendor))

	a.logger.Info("allocation finished",
		zap.Int("package_id", res.PackageID),
		zap.Int("requested", res.Requested),
		zap.Int("obtained", res.Obtained()),
		zap.String("status", string(res.Status)),
		zap.String("error_type", string(kind)),
	)
	return res
}

func (a *Allocator) activePackage(ctx context.Context, packageID int) (domain.Package, error) {
	pkg, err := a.packages.Get(ctx, packageID)
	if err != nil {
		return domain.Package{}, err
	}
	if !pkg.Active {
		return domain.Package{}, fmt.Errorf("package %d inactive: %w", packageID, domain.ErrPackageNotFound)
	}
	return pkg, nil
}
