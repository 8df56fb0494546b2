// Package config resolves server configuration from the environment
// and from the optional YAML files next to it (API keys, ingest
// rules). Components never read env themselves; they take resolved
// values from here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration. Zero-config boots work: with
// nothing set the server listens on 8080 and runs in lite mode on a
// local SQLite file.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the event store. Empty means lite mode:
	// a single-file SQLite database under DataDir.
	DatabaseURL string
	DataDir     string

	// KeysFile is the YAML file of per-org API keys. Without it and
	// without a service token secret, every request is rejected.
	KeysFile           string
	ServiceTokenSecret string

	// SigningMasterKey enables envelope signature verification when
	// SignatureVerification is set. Signature format is always checked.
	SigningMasterKey      string
	SignatureVerification bool

	// RulesFile points at the YAML ingest rule set. Empty disables
	// ingest rules.
	RulesFile string

	RateLimitPerMinute int
	RateLimitBurst     int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// ArchiveBackend turns on the JSONL export sink: "fs", "s3" or
	// "gcs". Empty disables archiving.
	ArchiveBackend       string
	ArchiveDir           string
	ArchiveBucket        string
	ArchiveRegion        string
	ArchiveEndpoint      string
	ArchivePrefix        string
	ArchiveSegmentEvents int
	ArchiveFlushInterval time.Duration

	OTelEnabled    bool
	OTelEndpoint   string
	OTelInsecure   bool
	OTelSampleRate float64

	Environment string
	MaxBatch    int
}

// Load reads configuration from environment variables. Malformed
// numeric or duration values fail the load rather than silently
// falling back.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     envOr("PORT", "8080"),
		LogLevel: envOr("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DataDir:     envOr("DATA_DIR", "data"),

		KeysFile:           os.Getenv("API_KEYS_FILE"),
		ServiceTokenSecret: os.Getenv("SERVICE_TOKEN_SECRET"),

		SigningMasterKey:      os.Getenv("SIGNING_MASTER_KEY"),
		SignatureVerification: envBool("SIGNATURE_VERIFICATION"),

		RulesFile: os.Getenv("RULES_FILE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		ArchiveBackend:  os.Getenv("ARCHIVE_BACKEND"),
		ArchiveDir:      os.Getenv("ARCHIVE_DIR"),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:   os.Getenv("ARCHIVE_REGION"),
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),
		ArchivePrefix:   os.Getenv("ARCHIVE_PREFIX"),

		OTelEnabled:  envBool("OTEL_ENABLED"),
		OTelEndpoint: envOr("OTEL_ENDPOINT", "localhost:4317"),
		OTelInsecure: envBool("OTEL_INSECURE"),

		Environment: envOr("ENVIRONMENT", "development"),
	}

	var err error
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 100); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.ArchiveSegmentEvents, err = envInt("ARCHIVE_SEGMENT_EVENTS", 1000); err != nil {
		return nil, err
	}
	if cfg.ArchiveFlushInterval, err = envDuration("ARCHIVE_FLUSH_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTelSampleRate, err = envFloat("OTEL_SAMPLE_RATE", 1.0); err != nil {
		return nil, err
	}
	if cfg.MaxBatch, err = envInt("MAX_BATCH", 1000); err != nil {
		return nil, err
	}

	if cfg.SignatureVerification && cfg.SigningMasterKey == "" {
		return nil, fmt.Errorf("config: SIGNATURE_VERIFICATION requires SIGNING_MASTER_KEY")
	}
	return cfg, nil
}

// LiteMode reports whether the server runs on embedded SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// ArchiveEnabled reports whether the export sink is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBackend != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	return os.Getenv(key) == "true"
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
