package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "filops.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FILOPS_PORT")
	setString(&cfg.Server.CORSOrigin, "FILOPS_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FILOPS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FILOPS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FILOPS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FILOPS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FILOPS_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FILOPS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FILOPS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FILOPS_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FILOPS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FILOPS_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "FILOPS_CACHE_SIZE_MB")
	setBool(&cfg.Otel.Enabled, "FILOPS_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "FILOPS_OTEL_ENDPOINT")
	setString(&cfg.GeoMgr.URL, "FILOPS_GEOMGR_URL")
	setDuration(&cfg.GeoMgr.Timeout, "FILOPS_GEOMGR_TIMEOUT")
	setDuration(&cfg.GeoMgr.CacheTTL, "FILOPS_GEOMGR_CACHE_TTL")
	setString(&cfg.Synapse.URL, "FILOPS_SYNAPSE_URL")
	setString(&cfg.Synapse.APIKey, "FILOPS_SYNAPSE_API_KEY")
	setString(&cfg.Synapse.Network, "FILOPS_SYNAPSE_NETWORK")
	setInt64(&cfg.Synapse.MaxConcurrentDeals, "FILOPS_SYNAPSE_MAX_CONCURRENT_DEALS")
	setInt(&cfg.Synapse.DefaultDurationDays, "FILOPS_SYNAPSE_DURATION_DAYS")
	setFloat64(&cfg.Synapse.DefaultPriceFIL, "FILOPS_SYNAPSE_PRICE_FIL")
	setFloat64(&cfg.Synapse.DefaultCollateralFIL, "FILOPS_SYNAPSE_COLLATERAL_FIL")
	setBool(&cfg.Synapse.Verified, "FILOPS_SYNAPSE_VERIFIED")
	setDuration(&cfg.Registry.MonitorInterval, "FILOPS_REGISTRY_MONITOR_INTERVAL")
	setDuration(&cfg.Registry.StalenessThreshold, "FILOPS_REGISTRY_STALENESS_THRESHOLD")
	setInt(&cfg.Registry.ErrorAlertThreshold, "FILOPS_REGISTRY_ERROR_ALERT_THRESHOLD")
	setFloat64(&cfg.Compliance.MinUnitCostUSD, "FILOPS_COMPLIANCE_MIN_UNIT_COST_USD")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Synapse.MaxConcurrentDeals < 1 {
		return errors.New("synapse.max_concurrent_deals must be >= 1")
	}
	if cfg.Registry.MonitorInterval <= 0 {
		return errors.New("registry.monitor_interval must be positive")
	}
	if cfg.Registry.StalenessThreshold <= 0 {
		return errors.New("registry.staleness_threshold must be positive")
	}
	if cfg.Registry.ErrorAlertThreshold < 1 {
		return errors.New("registry.error_alert_threshold must be >= 1")
	}
	if cfg.Compliance.MinUnitCostUSD <= 0 {
		return errors.New("compliance.min_unit_cost_usd must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
