package domain

import "time"

// Config holds the complete Redress configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Calculation defaults injected into every request
	Compensation CompensationConfig `json:"compensation" yaml:"compensation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Async calculation worker
	Worker WorkerConfig `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds

	// AllowedOrigins limits CORS. Empty reflects any origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins"`
}

// CompensationConfig holds the injected rates and service tuning.
type CompensationConfig struct {
	// DefaultRepoRate is the annual reference rate used by NEFT/RTGS when the
	// request carries none.
	DefaultRepoRate float64 `json:"defaultRepoRate" yaml:"defaultRepoRate"`

	// DefaultSavingsRate is the annual savings rate used for zero-liability interest.
	DefaultSavingsRate float64 `json:"defaultSavingsRate" yaml:"defaultSavingsRate"`

	// BatchConcurrency bounds parallel evaluation in batch requests.
	BatchConcurrency int `json:"batchConcurrency" yaml:"batchConcurrency"`

	// ResultTTL is how long computed envelopes stay cached.
	ResultTTL time.Duration `json:"resultTTL" yaml:"resultTTL"`

	// LegacyRulesPath optionally replaces the built-in legacy rule table
	// with a YAML file keyed by scenario id.
	LegacyRulesPath string `json:"legacyRulesPath,omitempty" yaml:"legacyRulesPath"`
}

// WorkerConfig holds settings for the bus-driven calculation worker.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tenants []string `json:"tenants" yaml:"tenants"`
	Count   int      `json:"count" yaml:"count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and Go channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Compensation: CompensationConfig{
			DefaultRepoRate:    0.065,
			DefaultSavingsRate: 0.03,
			BatchConcurrency:   8,
			ResultTTL:          10 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./redress.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Count: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "redress",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "redress",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "redress-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
