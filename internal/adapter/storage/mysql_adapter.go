package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

const bulkInsertChunk = 500

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its filesystem, dialect and logger in package globals.
var gooseMu sync.Mutex

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	return RunMigrations(ctx, db, "up", logger)
}

// RunMigrations runs a goose command (up, down, status, redo, version...)
// against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, logger *zap.Logger, args ...string) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger.Sugar()})

	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

// MySQLInventory is the pin store. Claiming a pin deletes its row, so a
// code handed out once can never be read again.
type MySQLInventory struct {
	db *sql.DB
}

func NewMySQLInventory(db *sql.DB) *MySQLInventory {
	return &MySQLInventory{db: db}
}

func (m *MySQLInventory) Count(ctx context.Context, packageID int) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pins WHERE package_id = ? AND used = 0`, packageID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pins: %w", err)
	}
	return n, nil
}

func (m *MySQLInventory) CountAll(ctx context.Context) (map[int]int, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT package_id, COUNT(*) FROM pins
		WHERE used = 0
		GROUP BY package_id`)
	if err != nil {
		return nil, fmt.Errorf("count pins: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var id, n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan pin count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ClaimOne locks the oldest unused pin, skipping rows other transactions
// hold, and deletes it in the same transaction.
func (m *MySQLInventory) ClaimOne(ctx context.Context, packageID int) (domain.Pin, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pin{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		pin    domain.Pin
		source string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, package_id, code, source, created_at
		FROM pins
		WHERE package_id = ? AND used = 0
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, packageID,
	).Scan(&pin.ID, &pin.PackageID, &pin.Code, &source, &pin.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pin{}, domain.ErrPinNotFound
	}
	if err != nil {
		return domain.Pin{}, fmt.Errorf("select pin: %w", err)
	}
	pin.Source = domain.PinSource(source)

	result, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE id = ?`, pin.ID)
	if err != nil {
		return domain.Pin{}, fmt.Errorf("delete pin: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Pin{}, domain.ErrPinNotFound
	}

	if err := tx.Commit(); err != nil {
		return domain.Pin{}, fmt.Errorf("commit claim: %w", err)
	}
	return pin, nil
}

// BulkInsert skips blank lines and writes the rest in chunks inside one
// transaction.
func (m *MySQLInventory) BulkInsert(ctx context.Context, packageID int, codes []string) (int, error) {
	clean := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return 0, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(clean); start += bulkInsertChunk {
		end := min(start+bulkInsertChunk, len(clean))
		chunk := clean[start:end]

		query := `INSERT INTO pins (package_id, code, source) VALUES `
		args := make([]any, 0, len(chunk)*3)
		for i, code := range chunk {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, packageID, code, string(domain.SourceManual))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert pins: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return len(clean), nil
}

func (m *MySQLInventory) RecordVendorPin(ctx context.Context, packageID int, code string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO pins (package_id, code, source, used, used_at)
		VALUES (?, ?, ?, 1, NOW(6))`,
		packageID, code, string(domain.SourceVendor),
	)
	if err != nil {
		return fmt.Errorf("record vendor pin: %w", err)
	}
	return nil
}

// RemoveDuplicates deletes repeated unused (package_id, code) rows, keeping
// one per pair as the policy says.
func (m *MySQLInventory) RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error) {
	var cmp string
	switch policy {
	case domain.KeepOldest:
		cmp = ">"
	case domain.KeepNewest:
		cmp = "<"
	default:
		return 0, fmt.Errorf("unknown dedupe policy %q", policy)
	}

	result, err := m.db.ExecContext(ctx, `
		DELETE p1 FROM pins p1
		JOIN pins p2
		  ON p1.package_id = p2.package_id
		 AND p1.code = p2.code
		 AND p1.id `+cmp+` p2.id
		WHERE p1.used = 0 AND p2.used = 0`)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}
	return result.RowsAffected()
}
