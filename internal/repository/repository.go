// Package repository stores calculation audit records in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/redress/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Listing bounds for ListCalculations.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo, err := NewWithDB(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewWithDB wraps an open database and runs migrations.
func NewWithDB(db *sql.DB, driver string) (*SQLRepository, error) {
	repo := &SQLRepository{
		db:     db,
		driver: driver,
	}
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCalculation stores a calculation with tenant isolation.
func (r *SQLRepository) SaveCalculation(ctx context.Context, tenantID string, rec *domain.CalculationRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" || rec.Request == nil || rec.Result == nil {
		return fmt.Errorf("%w: calculation id, request and result are required", ErrInvalidInput)
	}

	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var amount sql.NullString
	if rec.Result.Amount != nil {
		amount = sql.NullString{String: rec.Result.Amount.String(), Valid: true}
	}

	query := `
		INSERT INTO calculations (
			id, tenant_id, strategy, scenario, outcome,
			eligible, amount, request, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID,
		rec.Result.Strategy, rec.Result.Scenario, string(rec.Result.Outcome),
		boolToInt(rec.Result.Eligible), amount,
		string(request), string(result),
		rec.CreatedAt.UTC(),
	)
	return err
}

// GetCalculation retrieves a calculation by ID with tenant isolation.
func (r *SQLRepository) GetCalculation(ctx context.Context, tenantID string, id string) (*domain.CalculationRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request, result, created_at
		FROM calculations
		WHERE tenant_id = ? AND id = ?
	`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCalculations returns a tenant's most recent calculations, newest first.
func (r *SQLRepository) ListCalculations(ctx context.Context, tenantID string, limit int) ([]*domain.CalculationRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	query := `
		SELECT id, tenant_id, request, result, created_at
		FROM calculations
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CalculationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.CalculationRecord, error) {
	var rec domain.CalculationRecord
	var request, result string

	if err := row.Scan(&rec.ID, &rec.TenantID, &request, &result, &rec.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(request), &rec.Request); err != nil {
		return nil, fmt.Errorf("failed to decode stored request %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
