package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

type MySQLPackages struct {
	db *sql.DB
}

func NewMySQLPackages(db *sql.DB) *MySQLPackages {
	return &MySQLPackages{db: db}
}

func (m *MySQLPackages) Get(ctx context.Context, id int) (domain.Package, error) {
	var p domain.Package
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, active, updated_at
		FROM packages WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Package{}, domain.ErrPackageNotFound
	}
	if err != nil {
		return domain.Package{}, fmt.Errorf("query package: %w", err)
	}
	return p, nil
}

func (m *MySQLPackages) List(ctx context.Context, activeOnly bool) ([]domain.Package, error) {
	query := `SELECT id, name, description, price, active, updated_at FROM packages`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var out []domain.Package
	for rows.Next() {
		var p domain.Package
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Active, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m *MySQLPackages) UpdatePrice(ctx context.Context, id int, price decimal.Decimal) error {
	result, err := m.db.ExecContext(ctx,
		`UPDATE packages SET price = ?, updated_at = NOW(6) WHERE id = ?`, price, id)
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}

	// MySQL reports zero affected rows for an unchanged value too.
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := m.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Seed inserts the given packages, leaving existing rows and their prices alone.
func (m *MySQLPackages) Seed(ctx context.Context, packages []domain.Package) error {
	if len(packages) == 0 {
		return nil
	}

	query := `INSERT IGNORE INTO packages (id, name, description, price, active) VALUES `
	args := make([]any, 0, len(packages)*5)
	for i, p := range packages {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, p.ID, p.Name, p.Description, p.Price, p.Active)
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed packages: %w", err)
	}
	return nil
}
