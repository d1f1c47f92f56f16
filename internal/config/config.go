// Package config loads the Redress configuration from an optional YAML file
// and environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/redress/internal/bus"
	"github.com/opensource-finance/redress/internal/domain"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvTier           = "REDRESS_TIER"
	EnvPort           = "REDRESS_PORT"
	EnvDBDriver       = "REDRESS_DB_DRIVER"
	EnvSQLitePath     = "REDRESS_SQLITE_PATH"
	EnvRedisAddr      = "REDRESS_REDIS_ADDR"
	EnvNATSUrl        = "REDRESS_NATS_URL"
	EnvRepoRate       = "REDRESS_REPO_RATE"
	EnvSavingsRate    = "REDRESS_SB_RATE"
	EnvLogLevel       = "REDRESS_LOG_LEVEL"
	EnvLegacyRules    = "REDRESS_LEGACY_RULES"
	EnvAsyncWorker    = "REDRESS_ASYNC_WORKER"
	EnvWorkerTenants  = "REDRESS_TENANTS"
	EnvPostgresPasswd = "REDRESS_POSTGRES_PASSWORD"
)

// Load builds the configuration. The tier, taken from REDRESS_TIER or the
// file, selects the base defaults; the file is layered over them and the
// environment over both. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func load(path string, lookup lookupFunc) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	tier, err := resolveTier(data, lookup)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.Tier = tier

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Debug("configuration resolved", "tier", cfg.Tier, "file", path)
	return cfg, nil
}

func resolveTier(data []byte, lookup lookupFunc) (domain.Tier, error) {
	if v, ok := lookup(EnvTier); ok && v != "" {
		return domain.Tier(strings.ToLower(v)), nil
	}
	if len(data) == 0 {
		return domain.TierCommunity, nil
	}

	var probe struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("failed to parse config: %w", err)
	}
	if probe.Tier == "" {
		return domain.TierCommunity, nil
	}
	return probe.Tier, nil
}

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvDBDriver, &cfg.Repository.Driver)
	str(EnvSQLitePath, &cfg.Repository.SQLitePath)
	str(EnvPostgresPasswd, &cfg.Repository.PostgresPassword)
	str(EnvRedisAddr, &cfg.Cache.RedisAddr)
	str(EnvNATSUrl, &cfg.EventBus.NATSUrl)
	str(EnvLogLevel, &cfg.Logging.Level)
	str(EnvLegacyRules, &cfg.Compensation.LegacyRulesPath)

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}

	for key, dst := range map[string]*float64{
		EnvRepoRate:    &cfg.Compensation.DefaultRepoRate,
		EnvSavingsRate: &cfg.Compensation.DefaultSavingsRate,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = rate
	}

	if v, ok := lookup(EnvAsyncWorker); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAsyncWorker, err)
		}
		cfg.Worker.Enabled = enabled
	}

	if v, ok := lookup(EnvWorkerTenants); ok && v != "" {
		cfg.Worker.Tenants = splitList(v)
	}

	return nil
}

// Validate checks the settings Load cannot default.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}

	c := cfg.Compensation
	if c.DefaultRepoRate < 0 || c.DefaultRepoRate >= 1 {
		return fmt.Errorf("default repo rate %v must be a fraction in [0, 1)", c.DefaultRepoRate)
	}
	if c.DefaultSavingsRate < 0 || c.DefaultSavingsRate >= 1 {
		return fmt.Errorf("default savings rate %v must be a fraction in [0, 1)", c.DefaultSavingsRate)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.ResultTTL < 0 {
		return fmt.Errorf("result TTL must not be negative")
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}

	if cfg.Worker.Enabled && cfg.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", cfg.Worker.Count)
	}
	for _, tenant := range cfg.Worker.Tenants {
		if err := bus.ValidateTenant(tenant); err != nil {
			return fmt.Errorf("worker tenants: %w", err)
		}
	}

	return nil
}

// ParseLevel maps a configured log level to slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
