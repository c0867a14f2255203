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
const DefaultConfigFile = "swarmd.yaml"

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
	setString(&cfg.Server.Port, "SWARMD_PORT")
	setString(&cfg.Server.CORSOrigin, "SWARMD_CORS_ORIGIN")

	setString(&cfg.Store.Backend, "SWARMD_STORE_BACKEND")
	setString(&cfg.Store.FS.Root, "SWARMD_FS_ROOT")
	setDuration(&cfg.Store.FS.TxnStaleAfter, "SWARMD_FS_TXN_STALE_AFTER")
	setString(&cfg.Store.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Store.Postgres.MaxConns, "SWARMD_PG_MAX_CONNS")
	setInt32(&cfg.Store.Postgres.MinConns, "SWARMD_PG_MIN_CONNS")
	setDuration(&cfg.Store.Postgres.MaxConnLifetime, "SWARMD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Store.Postgres.MaxConnIdleTime, "SWARMD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Store.Postgres.HealthCheck, "SWARMD_PG_HEALTH_CHECK")

	setBool(&cfg.NATS.Enabled, "SWARMD_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "SWARMD_NATS_KV_BUCKET")

	setBool(&cfg.MCP.Enabled, "SWARMD_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "SWARMD_MCP_ADDR")

	setString(&cfg.Logging.Level, "SWARMD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SWARMD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SWARMD_LOG_ASYNC")

	setString(&cfg.Auth.KeyHash, "SWARMD_API_KEY_HASH")

	setInt(&cfg.Breaker.MaxFailures, "SWARMD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SWARMD_BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.L1MaxSizeMB, "SWARMD_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.StatusTTL, "SWARMD_CACHE_STATUS_TTL")

	setBool(&cfg.Otel.Enabled, "SWARMD_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setDuration(&cfg.Swarm.WorkerTTL, "SWARMD_WORKER_TTL")
	setDuration(&cfg.Swarm.LockTTL, "SWARMD_LOCK_TTL")
	setInt(&cfg.Swarm.MaxTouchedFiles, "SWARMD_MAX_TOUCHED_FILES")
	setInt(&cfg.Swarm.MaxLanesPerWave, "SWARMD_MAX_LANES_PER_WAVE")
	setInt(&cfg.Swarm.MinValidationTasks, "SWARMD_MIN_VALIDATION_TASKS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "fs":
		if cfg.Store.FS.Root == "" {
			return errors.New("store.fs.root is required")
		}
	case "postgres":
		if cfg.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
		if cfg.Store.Postgres.MaxConns < 1 {
			return errors.New("store.postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be fs, postgres or memory, got %q", cfg.Store.Backend)
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Swarm.WorkerTTL <= 0 {
		return errors.New("swarm.worker_ttl must be positive")
	}
	if cfg.Swarm.LockTTL <= 0 {
		return errors.New("swarm.lock_ttl must be positive")
	}
	if cfg.Swarm.MaxTouchedFiles < 1 {
		return errors.New("swarm.max_touched_files must be >= 1")
	}
	if cfg.Swarm.MaxLanesPerWave < 1 {
		return errors.New("swarm.max_lanes_per_wave must be >= 1")
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
