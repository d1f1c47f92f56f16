// Package domain defines the core interfaces and types for Redress.
package domain

import (
	"context"
	"time"
)

// Repository persists calculation audit records.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Calculation audit records
	SaveCalculation(ctx context.Context, tenantID string, rec *CalculationRecord) error
	GetCalculation(ctx context.Context, tenantID string, id string) (*CalculationRecord, error)
	ListCalculations(ctx context.Context, tenantID string, limit int) ([]*CalculationRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CalculationRecord is the stored form of one calculation.
type CalculationRecord struct {
	ID        string              `json:"id"`
	TenantID  string              `json:"tenantId"`
	Request   *CalculationRequest `json:"request"`
	Result    *CalculationResult  `json:"result"`
	CreatedAt time.Time           `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
