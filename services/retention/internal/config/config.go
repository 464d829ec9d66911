package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	relayconfig "github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
)

const (
	defaultDatabaseName = "lora_dashboard_db"
	defaultCollection   = "readings"
	defaultMaxAge       = 720 * time.Hour
	defaultStoreTimeout = 30 * time.Second
)

// Config holds runtime configuration for the retention job.
type Config struct {
	DatabaseURL  string
	DatabaseName string
	Collection   string
	MaxAge       time.Duration
	StoreTimeout time.Duration
	DryRun       bool
	LogLevel     slog.Level
	LogFormat    string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		DatabaseName: defaultDatabaseName,
		Collection:   defaultCollection,
		MaxAge:       defaultMaxAge,
		StoreTimeout: defaultStoreTimeout,
		LogLevel:     slog.LevelInfo,
		LogFormat:    "text",
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = strings.TrimSpace(os.Getenv("MONGO_URI"))
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("DATABASE_NAME")); v != "" {
		cfg.DatabaseName = v
	}
	if v := strings.TrimSpace(os.Getenv("READINGS_COLLECTION")); v != "" {
		cfg.Collection = v
	}

	if v := strings.TrimSpace(os.Getenv("RETENTION_MAX_AGE")); v != "" {
		d, err := relayconfig.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid RETENTION_MAX_AGE: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("invalid RETENTION_MAX_AGE: %s", v)
		}
		cfg.MaxAge = d
	}

	if v := strings.TrimSpace(os.Getenv("STORE_TIMEOUT")); v != "" {
		d, err := relayconfig.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid STORE_TIMEOUT: %s", v)
		}
		cfg.StoreTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %s", v)
		}
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))); v == "json" {
		cfg.LogFormat = v
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	return cfg, nil
}
