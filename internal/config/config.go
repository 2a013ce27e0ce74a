package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the sitepulse binaries.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr"`
	HTTPAddr    string `json:"http_addr"`

	QueueName string `json:"queue_name"`

	QueueMaxAttempts int `json:"queue_max_attempts"`

	QueueBackoffBase    time.Duration `json:"-"`
	QueueBackoffBaseStr string        `json:"queue_backoff_base"`

	QueueVisibilityTimeout    time.Duration `json:"-"`
	QueueVisibilityTimeoutStr string        `json:"queue_visibility_timeout"`

	WorkerCount           int           `json:"worker_count"`
	WorkerPollInterval    time.Duration `json:"-"`
	WorkerPollIntervalStr string        `json:"worker_poll_interval"`
	WorkerDrainTimeout    time.Duration `json:"-"`
	WorkerDrainTimeoutStr string        `json:"worker_drain_timeout"`

	ReaperEnabled     bool          `json:"reaper_enabled"`
	ReaperInterval    time.Duration `json:"-"`
	ReaperIntervalStr string        `json:"reaper_interval"`
	ReaperBatchSize   int           `json:"reaper_batch_size"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// BreakerThreshold: 0 disables the storage circuit breaker.
	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	LeaderLockTTL          time.Duration `json:"-"`
	LeaderLockTTLStr       string        `json:"leader_lock_ttl"`
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		QueueName:                 os.Getenv("QUEUE_NAME"),
		QueueBackoffBaseStr:       os.Getenv("QUEUE_BACKOFF_BASE"),
		QueueVisibilityTimeoutStr: os.Getenv("QUEUE_VISIBILITY_TIMEOUT"),
		WorkerPollIntervalStr:     os.Getenv("WORKER_POLL_INTERVAL"),
		WorkerDrainTimeoutStr:     os.Getenv("WORKER_DRAIN_TIMEOUT"),
		ReaperEnabled:             os.Getenv("REAPER_ENABLED") == "true",
		ReaperIntervalStr:         os.Getenv("REAPER_INTERVAL"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		BreakerCooldownStr:        os.Getenv("BREAKER_COOLDOWN"),
		LeaderLockTTLStr:          os.Getenv("LEADER_LOCK_TTL"),
		LeaderRetryIntervalStr:    os.Getenv("LEADER_RETRY_INTERVAL"),
	}

	cfg.QueueMaxAttempts = intEnv("QUEUE_MAX_ATTEMPTS", 3)
	cfg.WorkerCount = intEnv("WORKER_COUNT", 4)
	cfg.ReaperBatchSize = intEnv("REAPER_BATCH_SIZE", 100)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)

	if thresholdStr := os.Getenv("BREAKER_THRESHOLD"); thresholdStr != "" {
		if n, err := strconv.Atoi(thresholdStr); err == nil && n >= 0 {
			cfg.BreakerThreshold = n
		} else {
			log.Printf("config: invalid BREAKER_THRESHOLD %q (must be a non-negative integer), using default 5", thresholdStr)
			cfg.BreakerThreshold = 5
		}
	} else {
		cfg.BreakerThreshold = 5
	}

	// Support platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "analytics-events"
	}
	if cfg.QueueBackoffBaseStr == "" {
		cfg.QueueBackoffBaseStr = "2s"
	}
	if cfg.QueueVisibilityTimeoutStr == "" {
		cfg.QueueVisibilityTimeoutStr = "30s"
	}
	if cfg.WorkerPollIntervalStr == "" {
		cfg.WorkerPollIntervalStr = "250ms"
	}
	if cfg.WorkerDrainTimeoutStr == "" {
		cfg.WorkerDrainTimeoutStr = "30s"
	}
	if cfg.ReaperIntervalStr == "" {
		cfg.ReaperIntervalStr = "1m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.BreakerCooldownStr == "" {
		cfg.BreakerCooldownStr = "30s"
	}
	if cfg.LeaderLockTTLStr == "" {
		cfg.LeaderLockTTLStr = "15s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.QueueBackoffBaseStr); err == nil {
		cfg.QueueBackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.QueueVisibilityTimeoutStr); err == nil {
		cfg.QueueVisibilityTimeout = d
	}
	if d, err := time.ParseDuration(cfg.WorkerPollIntervalStr); err == nil {
		cfg.WorkerPollInterval = d
	}
	if d, err := time.ParseDuration(cfg.WorkerDrainTimeoutStr); err == nil {
		cfg.WorkerDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReaperIntervalStr); err == nil {
		cfg.ReaperInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.BreakerCooldownStr); err == nil {
		cfg.BreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderLockTTLStr); err == nil {
		cfg.LeaderLockTTL = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}

	return cfg
}

// intEnv reads a positive integer env var, falling back to def on absence
// or invalid input.
func intEnv(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL            string `json:"database_url"`
		RedisAddr              string `json:"redis_addr"`
		HTTPAddr               string `json:"http_addr"`
		QueueName              string `json:"queue_name"`
		QueueMaxAttempts       int    `json:"queue_max_attempts"`
		QueueBackoffBase       string `json:"queue_backoff_base"`
		QueueVisibilityTimeout string `json:"queue_visibility_timeout"`
		WorkerCount            int    `json:"worker_count"`
		WorkerPollInterval     string `json:"worker_poll_interval"`
		WorkerDrainTimeout     string `json:"worker_drain_timeout"`
		ReaperEnabled          bool   `json:"reaper_enabled"`
		ReaperInterval         string `json:"reaper_interval"`
		ReaperBatchSize        int    `json:"reaper_batch_size"`
		DBOpTimeout            string `json:"db_op_timeout"`
		DBMaxOpenConns         int    `json:"db_max_open_conns"`
		DBMaxIdleConns         int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime      string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime      string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout    string `json:"http_shutdown_timeout"`
		MetricsEnabled         bool   `json:"metrics_enabled"`
		MetricsPath            string `json:"metrics_path"`
		MetricsPort            string `json:"metrics_port"`
		BreakerThreshold       int    `json:"breaker_threshold"`
		BreakerCooldown        string `json:"breaker_cooldown"`
		LeaderLockTTL          string `json:"leader_lock_ttl"`
		LeaderRetryInterval    string `json:"leader_retry_interval"`
	}{
		DatabaseURL:            maskSecret(c.DatabaseURL),
		RedisAddr:              c.RedisAddr,
		HTTPAddr:               c.HTTPAddr,
		QueueName:              c.QueueName,
		QueueMaxAttempts:       c.QueueMaxAttempts,
		QueueBackoffBase:       c.QueueBackoffBaseStr,
		QueueVisibilityTimeout: c.QueueVisibilityTimeoutStr,
		WorkerCount:            c.WorkerCount,
		WorkerPollInterval:     c.WorkerPollIntervalStr,
		WorkerDrainTimeout:     c.WorkerDrainTimeoutStr,
		ReaperEnabled:          c.ReaperEnabled,
		ReaperInterval:         c.ReaperIntervalStr,
		ReaperBatchSize:        c.ReaperBatchSize,
		DBOpTimeout:            c.DBOpTimeoutStr,
		DBMaxOpenConns:         c.DBMaxOpenConns,
		DBMaxIdleConns:         c.DBMaxIdleConns,
		DBConnMaxLifetime:      c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:      c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:    c.HTTPShutdownTimeoutStr,
		MetricsEnabled:         c.MetricsEnabled,
		MetricsPath:            c.MetricsPath,
		MetricsPort:            c.MetricsPort,
		BreakerThreshold:       c.BreakerThreshold,
		BreakerCooldown:        c.BreakerCooldownStr,
		LeaderLockTTL:          c.LeaderLockTTLStr,
		LeaderRetryInterval:    c.LeaderRetryIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
