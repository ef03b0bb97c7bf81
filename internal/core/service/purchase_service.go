package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/metrics"
	"github.com/rl1809/topup-pins/internal/port"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrInvalidRequest   = errors.New("invalid purchase request")
	ErrAllocationFailed = errors.New("allocation failed")
)

type PurchaseRequest struct {
	RequestID string
	UserID    string
	PackageID int
	Quantity  int
}

type PurchaseResult struct {
	Allocation domain.Allocation
	Record     *domain.PurchaseRecord
}

type PurchaseConfig struct {
	Retention int
	QueueSize int
}

type PurchaseService struct {
	allocator  *Allocator
	packages   port.PackageRepository
	purchases  port.PurchaseRepository
	wallets    port.WalletRepository
	cache      port.CacheRepository
	eventQueue chan domain.PurchaseCompleted
	retention  int
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewPurchaseService(allocator *Allocator, packages port.PackageRepository, purchases port.PurchaseRepository, wallets port.WalletRepository, cache port.CacheRepository, cfg PurchaseConfig, logger *zap.Logger) *PurchaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = domain.DefaultPurchaseRetention
	}
	return &PurchaseService{
		allocator:  allocator,
		packages:   packages,
		purchases:  purchases,
		wallets:    wallets,
		cache:      cache,
		eventQueue: make(chan domain.PurchaseCompleted, cfg.QueueSize),
		retention:  cfg.Retention,
		logger:     logger,
	}
}

// Purchase holds the full price from the buyer's wallet, allocates pins and
// records the purchase priced against the quantity actually obtained; the
// unspent part of the hold is returned with the record. A failed allocation
// refunds the hold and releases the idempotency key so the client may retry
// with the same request ID.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.RequestID == "" || req.UserID == "" || req.PackageID <= 0 || req.Quantity <= 0 {
		return nil, ErrInvalidRequest
	}

	idempotencyKey := fmt.Sprintf("purchase:%s", req.RequestID)

	ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}

	pkg, err := s.packages.Get(ctx, req.PackageID)
	if err != nil {
		s.release(ctx, idempotencyKey)
		if errors.Is(err, domain.ErrPackageNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("load package: %w", err)
	}
	if !pkg.Active {
		s.release(ctx, idempotencyKey)
		return nil, fmt.Errorf("%w: package %d inactive", ErrInvalidRequest, pkg.ID)
	}

	held := pkg.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
	if held.IsPositive() {
		if err := s.wallets.Hold(ctx, req.UserID, held); err != nil {
			s.release(ctx, idempotencyKey)
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return nil, fmt.Errorf("%w: need %s", err, held.StringFixed(2))
			}
			return nil, fmt.Errorf("hold balance: %w", err)
		}
	}

	alloc := s.allocator.RequestPinWithFallback(ctx, req.PackageID, req.Quantity)
	result := &PurchaseResult{Allocation: alloc}

	if alloc.Status == domain.StatusFailure {
		s.refund(ctx, req.UserID, held)
		s.release(ctx, idempotencyKey)
		return result, fmt.Errorf("%w: %s", ErrAllocationFailed, alloc.Kind)
	}

	now := time.Now()
	record := &domain.PurchaseRecord{
		UserID:        req.UserID,
		PackageID:     req.PackageID,
		ControlNumber: controlNumber(),
		TransactionID: transactionID(),
		Pins:          alloc.Codes(),
		Quantity:      alloc.Obtained(),
		Amount:        pkg.Price.Mul(decimal.NewFromInt(int64(alloc.Obtained()))).Neg(),
		CreatedAt:     now,
		Held:          held,
	}

	if err := s.purchases.Create(ctx, record, s.retention); err != nil {
		// Pins are already consumed at this point; the caller still gets them
		// and pays only for what was obtained.
		s.refund(ctx, req.UserID, record.Refund())
		s.logger.Error("CRITICAL: pins allocated but purchase not recorded",
			zap.String("request_id", req.RequestID),
			zap.String("user_id", req.UserID),
			zap.String("transaction_id", record.TransactionID),
			zap.Int("pins", len(record.Pins)),
			zap.Error(err),
		)
		return result, fmt.Errorf("record purchase: %w", err)
	}
	result.Record = record

	s.logger.Info("purchase recorded",
		zap.String("request_id", req.RequestID),
		zap.String("transaction_id", record.TransactionID),
		zap.String("status", string(alloc.Status)),
		zap.Int("requested", req.Quantity),
		zap.Int("obtained", record.Quantity),
		zap.String("amount", record.Amount.StringFixed(2)),
	)

	s.enqueue(domain.PurchaseCompleted{
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		PackageID:     req.PackageID,
		TransactionID: record.TransactionID,
		Requested:     req.Quantity,
		Obtained:      record.Quantity,
		Amount:        record.Amount,
		Status:        alloc.Status,
		CompletedAt:   now,
	})

	return result, nil
}

// History returns the retained purchases of a user, newest first.
func (s *PurchaseService) History(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	return s.purchases.ListByUser(ctx, userID, s.retention)
}

func (s *PurchaseService) GetEventQueue() <-chan domain.PurchaseCompleted {
	return s.eventQueue
}

// Close stops event delivery. Purchases still in flight complete, but their
// events are dropped.
func (s *PurchaseService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.eventQueue)
}

func (s *PurchaseService) enqueue(ev domain.PurchaseCompleted) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.RecordEventDropped()
		s.logger.Warn("event queue closed, dropping purchase event", zap.String("transaction_id", ev.TransactionID))
		return
	}

	select {
	case s.eventQueue <- ev:
	default:
		metrics.RecordEventDropped()
		s.logger.Warn("event queue full, dropping purchase event", zap.String("transaction_id", ev.TransactionID))
	}
}

func (s *PurchaseService) refund(ctx context.Context, userID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if err := s.wallets.Refund(ctx, userID, amount); err != nil {
		s.logger.Error("CRITICAL: wallet refund failed",
			zap.String("user_id", userID), zap.String("amount", amount.StringFixed(2)), zap.Error(err))
	}
}

func (s *PurchaseService) release(ctx context.Context, key string) {
	if err := s.cache.ReleaseIdempotency(ctx, key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func controlNumber() string {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}

func transactionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "FF-" + strings.ToUpper(id[:8])
}
