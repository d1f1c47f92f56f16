package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/shopspring/decimal"
)

func sampleRecord(id string, createdAt time.Time) *domain.CalculationRecord {
	amount := decimal.NewFromInt(700)
	primary := decimal.NewFromInt(2500)
	return &domain.CalculationRecord{
		ID: id,
		Request: &domain.CalculationRequest{
			Strategy: domain.StrategyScenario,
			Fields: map[string]string{
				"scenario_type":        "upi",
				"transaction_amount":   "2500",
				"transaction_date_iso": "2026-01-12",
				"resolved_date_iso":    "2026-01-20",
			},
		},
		Result: &domain.CalculationResult{
			ID:            id,
			Strategy:      domain.StrategyScenario,
			Scenario:      "upi",
			Eligible:      true,
			Amount:        &amount,
			PrimaryAmount: &primary,
			PrimaryDate:   "2026-01-12",
			Outcome:       domain.OutcomeComputed,
			Explanation:   []string{"scenario_type=upi", "calculator=upi"},
			CalculatedAt:  createdAt,
		},
		CreatedAt: createdAt,
	}
}

func TestSQLiteRepository(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "audit", "redress-test.db")

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	if _, err := os.Stat(tmpPath); err != nil {
		t.Fatalf("expected database file to be created: %v", err)
	}

	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetCalculation", func(t *testing.T) {
		rec := sampleRecord("calc-001", base)

		if err := repo.SaveCalculation(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveCalculation failed: %v", err)
		}

		retrieved, err := repo.GetCalculation(ctx, tenantID, rec.ID)
		if err != nil {
			t.Fatalf("GetCalculation failed: %v", err)
		}

		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if !retrieved.Result.Amount.Equal(*rec.Result.Amount) {
			t.Errorf("expected Amount %s, got %s", rec.Result.Amount, retrieved.Result.Amount)
		}
		if retrieved.Result.CustomerLiability != nil {
			t.Error("expected absent customer liability to stay absent")
		}
		if retrieved.Request.Fields["resolved_date_iso"] != "2026-01-20" {
			t.Errorf("expected request fields to round-trip, got %v", retrieved.Request.Fields)
		}
		if !retrieved.CreatedAt.Equal(base) {
			t.Errorf("expected CreatedAt %s, got %s", base, retrieved.CreatedAt)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		if err := repo.SaveCalculation(ctx, tenantID, sampleRecord("calc-001", base)); err == nil {
			t.Error("expected error for duplicate id")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetCalculation(ctx, "tenant-002", "calc-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}

		records, err := repo.ListCalculations(ctx, "tenant-002", 10)
		if err != nil {
			t.Fatalf("ListCalculations failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected no records for other tenant, got %d", len(records))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveCalculation(ctx, "", sampleRecord("calc-x", base)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetCalculation(ctx, "", "calc-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListCalculations(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RequiresResult", func(t *testing.T) {
		rec := sampleRecord("calc-y", base)
		rec.Result = nil
		if err := repo.SaveCalculation(ctx, tenantID, rec); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i, id := range []string{"calc-002", "calc-003", "calc-004"} {
			if err := repo.SaveCalculation(ctx, tenantID, sampleRecord(id, base.Add(time.Duration(i+1)*time.Minute))); err != nil {
				t.Fatalf("SaveCalculation failed: %v", err)
			}
		}

		records, err := repo.ListCalculations(ctx, tenantID, 2)
		if err != nil {
			t.Fatalf("ListCalculations failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].ID != "calc-004" || records[1].ID != "calc-003" {
			t.Errorf("expected calc-004, calc-003; got %s, %s", records[0].ID, records[1].ID)
		}

		all, err := repo.ListCalculations(ctx, tenantID, 0)
		if err != nil {
			t.Fatalf("ListCalculations failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 records with default limit, got %d", len(all))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetCalculation(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite queries must not be rebound, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.RepositoryConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  domain.RepositoryConfig{PostgresUser: "svc", PostgresPassword: "pw"},
			want: "postgres://svc:pw@localhost:5432/redress?sslmode=disable",
		},
		{
			name: "password is escaped",
			cfg:  domain.RepositoryConfig{PostgresUser: "svc", PostgresPassword: "p w@1/x", PostgresHost: "db", PostgresPort: 6432, PostgresDB: "audit", PostgresSSLMode: "require"},
			want: "postgres://svc:p%20w%401%2Fx@db:6432/audit?sslmode=require",
		},
		{
			name: "no credentials",
			cfg:  domain.RepositoryConfig{},
			want: "postgres://localhost:5432/redress?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgresDSN(tt.cfg); got != tt.want {
				t.Errorf("postgresDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("/tmp/audit.db")
	want := "file:/tmp/audit.db?_pragma=journal_mode%28WAL%29&_pragma=synchronous%28NORMAL%29&_pragma=busy_timeout%285000%29&_pragma=foreign_keys%28ON%29"
	if got != want {
		t.Errorf("sqliteDSN() = %q, want %q", got, want)
	}
}

func newMockRepository(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS calculations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo, err := NewWithDB(db, "postgres")
	if err != nil {
		t.Fatalf("NewWithDB failed: %v", err)
	}
	return repo, mock
}

func TestPostgresSaveCalculation(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	rec := sampleRecord("calc-001", created)

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)")).
		WithArgs("calc-001", "tenant-001", "scenario", "upi", "computed", 1, "700", sqlmock.AnyArg(), sqlmock.AnyArg(), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveCalculation(context.Background(), "tenant-001", rec); err != nil {
		t.Fatalf("SaveCalculation returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPostgresSaveIneligibleStoresNullAmount(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	rec := sampleRecord("calc-002", created)
	rec.Result.Eligible = false
	rec.Result.Amount = nil
	rec.Result.Outcome = domain.OutcomeInsufficientData

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO calculations")).
		WithArgs("calc-002", "tenant-001", "scenario", "upi", "insufficient_data", 0, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveCalculation(context.Background(), "tenant-001", rec); err != nil {
		t.Fatalf("SaveCalculation returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPostgresGetCalculation(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "request", "result", "created_at"}).
		AddRow("calc-001", "tenant-001",
			`{"strategy":"legacy","scenarioId":1,"transactionDate":"2026-01-12","referenceDate":"2026-01-20"}`,
			`{"strategy":"legacy","scenario":"1","eligible":true,"amount":"700","primaryAmount":null,"customerLiability":null,"bankCompensation":null,"outcome":"computed","explanation":["scenario_id=1"],"calculatedAt":"2026-01-20T10:00:00Z"}`,
			created)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND id = $2")).
		WithArgs("tenant-001", "calc-001").
		WillReturnRows(rows)

	rec, err := repo.GetCalculation(context.Background(), "tenant-001", "calc-001")
	if err != nil {
		t.Fatalf("GetCalculation returned error: %v", err)
	}
	if rec.Request.ScenarioID != 1 {
		t.Errorf("expected scenario id 1, got %d", rec.Request.ScenarioID)
	}
	if rec.Result.Amount == nil || rec.Result.Amount.String() != "700" {
		t.Errorf("expected amount 700, got %v", rec.Result.Amount)
	}
	if rec.Result.PrimaryAmount != nil {
		t.Error("expected null primary amount to decode as absent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPostgresGetCalculationNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM calculations")).
		WithArgs("tenant-001", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "request", "result", "created_at"}))

	_, err := repo.GetCalculation(context.Background(), "tenant-001", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListCalculationsCapsLimit(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2")).
		WithArgs("tenant-001", MaxListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "request", "result", "created_at"}))

	records, err := repo.ListCalculations(context.Background(), "tenant-001", 10_000)
	if err != nil {
		t.Fatalf("ListCalculations returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	if _, err := NewWithDB(db, "postgres"); err == nil {
		t.Error("expected migration error")
	}
}
