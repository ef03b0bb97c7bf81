package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

type MySQLPurchases struct {
	db *sql.DB
}

func NewMySQLPurchases(db *sql.DB) *MySQLPurchases {
	return &MySQLPurchases{db: db}
}

// Create inserts the record, trims the user's history to the newest
// retention rows and returns the unspent part of the wallet hold, all in the
// same transaction.
func (m *MySQLPurchases) Create(ctx context.Context, record *domain.PurchaseRecord, retention int) error {
	pins := record.Pins
	if pins == nil {
		pins = []string{}
	}
	pinsJSON, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encode pins: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO purchases (user_id, package_id, control_number, transaction_id, pins, quantity, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, record.PackageID, record.ControlNumber, record.TransactionID,
		string(pinsJSON), record.Quantity, record.Amount, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("purchase id: %w", err)
	}

	if retention > 0 {
		// MySQL cannot LIMIT a subquery on the table being deleted from,
		// hence the derived table.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM purchases
			WHERE user_id = ? AND id < (
				SELECT id FROM (
					SELECT id FROM purchases
					WHERE user_id = ?
					ORDER BY id DESC
					LIMIT 1 OFFSET ?
				) AS keep_from
			)`,
			record.UserID, record.UserID, retention-1,
		)
		if err != nil {
			return fmt.Errorf("trim purchases: %w", err)
		}
	}

	if refund := record.Refund(); record.Held.IsPositive() && refund.IsPositive() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET balance = balance + ? WHERE user_id = ?`,
			refund, record.UserID,
		); err != nil {
			return fmt.Errorf("settle wallet: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase: %w", err)
	}
	record.ID = id
	return nil
}

func (m *MySQLPurchases) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PurchaseRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, package_id, control_number, transaction_id, pins, quantity, amount, created_at
		FROM purchases
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.PurchaseRecord
	for rows.Next() {
		var (
			r    domain.PurchaseRecord
			pins string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.PackageID, &r.ControlNumber, &r.TransactionID,
			&pins, &r.Quantity, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if err := json.Unmarshal([]byte(pins), &r.Pins); err != nil {
			return nil, fmt.Errorf("decode pins of purchase %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
