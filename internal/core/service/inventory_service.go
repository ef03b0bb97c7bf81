package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/port"
)

var ErrInvalidPolicy = errors.New("invalid dedupe policy")

// InventoryService covers the admin side of local stock: loading codes,
// reporting counts and cleaning duplicates.
type InventoryService struct {
	inventory     port.InventoryRepository
	packages      port.PackageRepository
	defaultPolicy domain.DedupePolicy
	logger        *zap.Logger
}

func NewInventoryService(inventory port.InventoryRepository, packages port.PackageRepository, defaultPolicy domain.DedupePolicy, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{
		inventory:     inventory,
		packages:      packages,
		defaultPolicy: defaultPolicy,
		logger:        logger,
	}
}

func (s *InventoryService) AddPins(ctx context.Context, packageID int, codes []string) (int, error) {
	if _, err := s.packages.Get(ctx, packageID); err != nil {
		return 0, err
	}

	n, err := s.inventory.BulkInsert(ctx, packageID, codes)
	if err != nil {
		return 0, fmt.Errorf("bulk insert pins: %w", err)
	}

	s.logger.Info("pins added to local stock", zap.Int("package_id", packageID), zap.Int("count", n))
	return n, nil
}

// AddPinsText accepts one code per line, as pasted into the admin form.
func (s *InventoryService) AddPinsText(ctx context.Context, packageID int, text string) (int, error) {
	return s.AddPins(ctx, packageID, strings.Split(text, "\n"))
}

func (s *InventoryService) Stock(ctx context.Context) (map[int]int, error) {
	return s.inventory.CountAll(ctx)
}

// RemoveDuplicates uses the configured policy when policy is empty.
func (s *InventoryService) RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error) {
	if policy == "" {
		policy = s.defaultPolicy
	}
	if !policy.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}

	n, err := s.inventory.RemoveDuplicates(ctx, policy)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}

	s.logger.Info("duplicate pins removed", zap.String("policy", string(policy)), zap.Int64("removed", n))
	return n, nil
}
