// Package config provides configuration loading for the control plane.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all control plane configuration.
type Config struct {
	// Listen address (default ":4200")
	ListenAddr string `json:"listen_addr"`
	// Data directory for SQLite databases (default "/var/lib/windlass")
	DataDir string `json:"data_dir"`

	// Postgres DSN. When set, the event and automation stores use
	// Postgres instead of SQLite files under DataDir.
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	// Page token signing key (raw string, 32+ chars recommended). Empty
	// means a random key is generated on first start and persisted under
	// DataDir.
	PageTokenKey string `json:"page_token_key,omitempty"`

	// Proactive trigger sweep interval
	SweepGranularity Duration `json:"sweep_granularity,omitempty"`

	// Event retention: cron schedule for the sweep and the age horizon
	RetentionSchedule string   `json:"retention_schedule,omitempty"`
	RetentionHorizon  Duration `json:"retention_horizon,omitempty"`

	// Action executor sizing
	ExecutorWorkers   int `json:"executor_workers,omitempty"`
	ExecutorQueueSize int `json:"executor_queue_size,omitempty"`

	// YAML file of automations created at startup (matched by name)
	AutomationsSeedFile string `json:"automations_seed_file,omitempty"`

	// OTLP trace collector endpoint, e.g. "localhost:4317". Empty
	// disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// Duration is a JSON-friendly time.Duration ("90s", "15m").
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:        ":4200",
		DataDir:           "/var/lib/windlass",
		SweepGranularity:  Duration(time.Second),
		RetentionSchedule: "@hourly",
		RetentionHorizon:  Duration(7 * 24 * time.Hour),
		ExecutorWorkers:   4,
		ExecutorQueueSize: 256,
		LogLevel:          "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("WINDLASS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WINDLASS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WINDLASS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("WINDLASS_PAGE_TOKEN_KEY"); v != "" {
		cfg.PageTokenKey = v
	}
	if v := os.Getenv("WINDLASS_SWEEP_GRANULARITY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepGranularity = Duration(d)
		}
	}
	if v := os.Getenv("WINDLASS_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("WINDLASS_RETENTION_HORIZON"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetentionHorizon = Duration(d)
		}
	}
	if v := os.Getenv("WINDLASS_EXECUTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecutorWorkers = n
		}
	}
	if v := os.Getenv("WINDLASS_EXECUTOR_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecutorQueueSize = n
		}
	}
	if v := os.Getenv("WINDLASS_AUTOMATIONS_SEED_FILE"); v != "" {
		cfg.AutomationsSeedFile = v
	}
	if v := os.Getenv("WINDLASS_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("WINDLASS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// UsesPostgres reports whether the stores run on Postgres.
func (c Config) UsesPostgres() bool { return c.PostgresDSN != "" }
