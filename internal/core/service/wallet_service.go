package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/port"
)

var ErrInvalidCredit = errors.New("credit must be positive")

type WalletSummary struct {
	domain.Wallet
	Credits []domain.WalletCredit `json:"credits"`
}

type WalletService struct {
	wallets   port.WalletRepository
	retention int
	logger    *zap.Logger
}

func NewWalletService(wallets port.WalletRepository, creditRetention int, logger *zap.Logger) *WalletService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if creditRetention <= 0 {
		creditRetention = domain.DefaultCreditRetention
	}
	return &WalletService{wallets: wallets, retention: creditRetention, logger: logger}
}

// Credit tops up a user's balance; the user's wallet is created on first
// credit.
func (s *WalletService) Credit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Wallet, error) {
	if userID == "" {
		return domain.Wallet{}, ErrInvalidRequest
	}
	if !amount.IsPositive() {
		return domain.Wallet{}, ErrInvalidCredit
	}

	w, err := s.wallets.Credit(ctx, userID, amount.Round(2), s.retention)
	if err != nil {
		return domain.Wallet{}, err
	}

	s.logger.Info("wallet credited",
		zap.String("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", w.Balance.StringFixed(2)),
	)
	return w, nil
}

// Summary returns the balance and the retained credits, newest first.
func (s *WalletService) Summary(ctx context.Context, userID string) (WalletSummary, error) {
	if userID == "" {
		return WalletSummary{}, ErrInvalidRequest
	}

	w, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	credits, err := s.wallets.ListCredits(ctx, userID, s.retention)
	if err != nil {
		return WalletSummary{}, err
	}
	if credits == nil {
		credits = []domain.WalletCredit{}
	}
	return WalletSummary{Wallet: w, Credits: credits}, nil
}
