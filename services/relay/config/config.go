package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

const (
	defaultDatabaseName  = "lora_dashboard_db"
	defaultCollection    = "readings"
	defaultPort          = 8080
	defaultHistoryLimit  = 200
	defaultExportLimit   = 10000
	defaultStoreTimeout  = 10 * time.Second
	defaultAppendRetries = 2
	defaultMQTTTopic     = "lora/+/up"
	defaultMQTTClientID  = "lora-relay"
)

// Config holds environment-driven settings for the relay.
type Config struct {
	DatabaseURL   string
	DatabaseName  string
	Collection    string
	Port          int
	HistoryLimit  int
	ExportLimit   int
	StoreTimeout  time.Duration
	AppendRetries int
	Schema        telemetry.Schema
	LogLevel      slog.Level
	LogFormat     string
	DashboardDir  string
	BearerToken   string
	MQTT          MQTT
}

// MQTT configures the optional uplink subscriber. It is disabled when
// BrokerURL is empty.
type MQTT struct {
	BrokerURL string
	Topic     string
	ClientID  string
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return m.BrokerURL != ""
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		DatabaseName:  defaultDatabaseName,
		Collection:    defaultCollection,
		Port:          defaultPort,
		HistoryLimit:  defaultHistoryLimit,
		ExportLimit:   defaultExportLimit,
		StoreTimeout:  defaultStoreTimeout,
		AppendRetries: defaultAppendRetries,
		LogLevel:      slog.LevelInfo,
		LogFormat:     "text",
		MQTT: MQTT{
			Topic:    defaultMQTTTopic,
			ClientID: defaultMQTTClientID,
		},
	}

	cfg.DatabaseURL = env("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = env("MONGO_URI")
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := env("DATABASE_NAME"); v != "" {
		cfg.DatabaseName = v
	}
	if v := env("READINGS_COLLECTION"); v != "" {
		cfg.Collection = v
	}

	if portStr := env("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := env("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	var err error
	if cfg.HistoryLimit, err = positiveInt("HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return cfg, err
	}
	if cfg.ExportLimit, err = positiveInt("EXPORT_LIMIT", cfg.ExportLimit); err != nil {
		return cfg, err
	}

	if v := env("STORE_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid STORE_TIMEOUT: %s", v)
		}
		cfg.StoreTimeout = d
	}

	if v := env("APPEND_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid APPEND_RETRIES: %s", v)
		}
		cfg.AppendRetries = n
	}

	if cfg.Schema, err = loadSchema(); err != nil {
		return cfg, err
	}

	if v := env("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %s", v)
		}
	}
	if v := env("LOG_FORMAT"); v != "" {
		v = strings.ToLower(v)
		if v != "text" && v != "json" {
			return cfg, fmt.Errorf("invalid LOG_FORMAT: %s", v)
		}
		cfg.LogFormat = v
	}

	cfg.DashboardDir = env("DASHBOARD_DIR")
	cfg.BearerToken = env("API_BEARER_TOKEN")

	cfg.MQTT.BrokerURL = env("MQTT_BROKER_URL")
	if v := env("MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := env("MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// loadSchema starts from SCHEMA_FILE or the built-in schema, then applies
// SENSOR_FIELDS, REQUIRED_FIELDS and DEFAULT_DEVICE_ID.
func loadSchema() (telemetry.Schema, error) {
	defaults := telemetry.DefaultSchema()
	schema := defaults

	if path := env("SCHEMA_FILE"); path != "" {
		var fromFile telemetry.Schema
		if _, err := toml.DecodeFile(path, &fromFile); err != nil {
			return schema, fmt.Errorf("invalid SCHEMA_FILE: %w", err)
		}
		schema = fromFile
		if len(schema.Fields) == 0 {
			schema.Fields = defaults.Fields
		}
		if len(schema.Required) == 0 {
			schema.Required = defaults.Required
		}
		if schema.Aliases == nil {
			schema.Aliases = defaults.Aliases
		}
		if len(schema.DeviceKeys) == 0 {
			schema.DeviceKeys = defaults.DeviceKeys
		}
		if schema.DefaultDeviceID == "" {
			schema.DefaultDeviceID = defaults.DefaultDeviceID
		}
	}

	if v := env("SENSOR_FIELDS"); v != "" {
		schema.Fields = telemetry.ParseFieldList(v)
	}
	if v := env("REQUIRED_FIELDS"); v != "" {
		schema.Required = telemetry.ParseFieldList(v)
	}
	if v := env("DEFAULT_DEVICE_ID"); v != "" {
		schema.DefaultDeviceID = v
	}

	// Aliases pointing at fields that were overridden away are dropped.
	aliases := make(map[string][]string, len(schema.Aliases))
	for target, keys := range schema.Aliases {
		if schema.HasField(target) {
			aliases[target] = keys
		}
	}
	schema.Aliases = aliases

	if err := schema.Validate(); err != nil {
		return schema, fmt.Errorf("invalid sensor schema: %w", err)
	}
	return schema, nil
}

// ParseDuration accepts Go durations ("90s", "720h") and ISO-8601 durations
// ("PT90S", "P30D").
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	d, err := duration.Parse(v)
	if err != nil {
		return 0, err
	}
	return d.ToTimeDuration(), nil
}

func positiveInt(key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
