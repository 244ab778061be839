// Package config loads and validates application configuration from
// environment variables and the declarative definitions file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Persistence.
	StorageDriver string // "memory", "postgres", or "sqlite"
	DatabaseURL   string
	SQLitePath    string

	// DefinitionsPath points at the YAML file with agents, workflows, and
	// patch policies. Empty means none.
	DefinitionsPath string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool
	// OTELExportInterval is how often metrics are pushed.
	OTELExportInterval time.Duration

	// Engine settings.
	IngestWorkers        int
	IngestQueueSize      int
	DispatchQueueSize    int
	SuccessWeight        float64
	CriticalSeverities   []string
	AutoAnalyze          bool
	TrendWindow          time.Duration
	SnapshotInterval     time.Duration
	ScheduleTickInterval time.Duration // 0 disables schedule-tick events.

	// Rate limiting on event submission.
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		StorageDriver:      envStr("KANRI_STORAGE", StorageMemory),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		SQLitePath:         envStr("KANRI_SQLITE_PATH", "data/kanri.db"),
		DefinitionsPath:    envStr("KANRI_DEFINITIONS", ""),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "kanri"),
		CriticalSeverities: envList("KANRI_CRITICAL_SEVERITIES", []string{"critical"}),
		LogLevel:           envStr("KANRI_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("KANRI_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("KANRI_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("KANRI_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("KANRI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.IngestWorkers, err = envInt("KANRI_INGEST_WORKERS", 4)
	collect(err)
	cfg.IngestQueueSize, err = envInt("KANRI_INGEST_QUEUE_SIZE", 1024)
	collect(err)
	cfg.DispatchQueueSize, err = envInt("KANRI_DISPATCH_QUEUE_SIZE", 64)
	collect(err)
	cfg.SuccessWeight, err = envFloat("KANRI_SUCCESS_WEIGHT", 0.1)
	collect(err)
	cfg.AutoAnalyze, err = envBool("KANRI_AUTO_ANALYZE", true)
	collect(err)
	cfg.OTELInsecure, err = envBool("KANRI_OTEL_INSECURE", false)
	collect(err)
	cfg.OTELExportInterval, err = envDuration("KANRI_OTEL_EXPORT_INTERVAL", 15*time.Second)
	collect(err)
	cfg.TrendWindow, err = envDuration("KANRI_TREND_WINDOW", 7*24*time.Hour)
	collect(err)
	cfg.SnapshotInterval, err = envDuration("KANRI_SNAPSHOT_INTERVAL", time.Hour)
	collect(err)
	cfg.ScheduleTickInterval, err = envDuration("KANRI_SCHEDULE_TICK_INTERVAL", time.Minute)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("KANRI_RATE_LIMIT_RPS", 50)
	collect(err)
	cfg.RateLimitBurst, err = envInt("KANRI_RATE_LIMIT_BURST", 100)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when KANRI_STORAGE=postgres")
		}
	default:
		return fmt.Errorf("config: KANRI_STORAGE=%q must be memory, postgres, or sqlite", c.StorageDriver)
	}
	if c.StorageDriver == StorageSQLite && c.SQLitePath == "" {
		return fmt.Errorf("config: KANRI_SQLITE_PATH is required when KANRI_STORAGE=sqlite")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KANRI_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KANRI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.IngestWorkers <= 0 || c.IngestQueueSize <= 0 || c.DispatchQueueSize <= 0 {
		return fmt.Errorf("config: worker and queue sizes must be positive")
	}
	if c.SuccessWeight <= 0 || c.SuccessWeight > 1 {
		return fmt.Errorf("config: KANRI_SUCCESS_WEIGHT must be in (0, 1]")
	}
	if c.TrendWindow <= 0 || c.SnapshotInterval <= 0 {
		return fmt.Errorf("config: KANRI_TREND_WINDOW and KANRI_SNAPSHOT_INTERVAL must be positive")
	}
	if c.ScheduleTickInterval < 0 {
		return fmt.Errorf("config: KANRI_SCHEDULE_TICK_INTERVAL must not be negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
