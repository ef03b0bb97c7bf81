package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/port"
)

var ErrInvalidPrice = errors.New("price must not be negative")

type CatalogService struct {
	packages port.PackageRepository
	logger   *zap.Logger
}

func NewCatalogService(packages port.PackageRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{packages: packages, logger: logger}
}

func (s *CatalogService) Seed(ctx context.Context) error {
	if err := s.packages.Seed(ctx, domain.DefaultPackages()); err != nil {
		return fmt.Errorf("seed packages: %w", err)
	}
	return nil
}

func (s *CatalogService) List(ctx context.Context, activeOnly bool) ([]domain.Package, error) {
	return s.packages.List(ctx, activeOnly)
}

func (s *CatalogService) Get(ctx context.Context, id int) (domain.Package, error) {
	return s.packages.Get(ctx, id)
}

func (s *CatalogService) UpdatePrice(ctx context.Context, id int, price decimal.Decimal) (domain.Package, error) {
	if price.IsNegative() {
		return domain.Package{}, ErrInvalidPrice
	}

	if err := s.packages.UpdatePrice(ctx, id, price); err != nil {
		return domain.Package{}, err
	}

	s.logger.Info("package price updated", zap.Int("package_id", id), zap.String("price", price.StringFixed(2)))
	return s.packages.Get(ctx, id)
}
