package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

type MySQLWallets struct {
	db *sql.DB
}

func NewMySQLWallets(db *sql.DB) *MySQLWallets {
	return &MySQLWallets{db: db}
}

func (m *MySQLWallets) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	return getWallet(ctx, m.db, userID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getWallet(ctx context.Context, q rowQuerier, userID string) (domain.Wallet, error) {
	w := domain.Wallet{UserID: userID}
	err := q.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM wallets WHERE user_id = ?`, userID,
	).Scan(&w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, nil
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("query wallet: %w", err)
	}
	return w, nil
}

// Credit tops up the wallet, creating it on first use, and keeps only the
// newest retention credit rows.
func (m *MySQLWallets) Credit(ctx context.Context, userID string, amount decimal.Decimal, retention int) (domain.Wallet, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE balance = balance + ?`,
		userID, amount, amount,
	)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("credit wallet: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_credits (user_id, amount) VALUES (?, ?)`, userID, amount,
	); err != nil {
		return domain.Wallet{}, fmt.Errorf("insert credit: %w", err)
	}

	if retention > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM wallet_credits
			WHERE user_id = ? AND id < (
				SELECT id FROM (
					SELECT id FROM wallet_credits
					WHERE user_id = ?
					ORDER BY id DESC
					LIMIT 1 OFFSET ?
				) AS keep_from
			)`,
			userID, userID, retention-1,
		)
		if err != nil {
			return domain.Wallet{}, fmt.Errorf("trim credits: %w", err)
		}
	}

	w, err := getWallet(ctx, tx, userID)
	if err != nil {
		return domain.Wallet{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Wallet{}, fmt.Errorf("commit credit: %w", err)
	}
	return w, nil
}

// Hold debits amount only if the balance covers it.
func (m *MySQLWallets) Hold(ctx context.Context, userID string, amount decimal.Decimal) error {
	result, err := m.db.ExecContext(ctx,
		`UPDATE wallets SET balance = balance - ? WHERE user_id = ? AND balance >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return fmt.Errorf("hold balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("hold rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (m *MySQLWallets) Refund(ctx context.Context, userID string, amount decimal.Decimal) error {
	if _, err := m.db.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + ? WHERE user_id = ?`, amount, userID,
	); err != nil {
		return fmt.Errorf("refund balance: %w", err)
	}
	return nil
}

func (m *MySQLWallets) ListCredits(ctx context.Context, userID string, limit int) ([]domain.WalletCredit, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, amount, created_at
		FROM wallet_credits
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query credits: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletCredit
	for rows.Next() {
		var c domain.WalletCredit
		if err := rows.Scan(&c.ID, &c.UserID, &c.Amount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
