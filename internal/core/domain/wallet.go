package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCreditRetention is how many top-ups are kept per user.
const DefaultCreditRetention = 10

var ErrInsufficientBalance = errors.New("insufficient balance")

type Wallet struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletCredit is one admin top-up of a user's balance.
type WalletCredit struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
