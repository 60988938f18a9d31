// Package config loads process-level configuration from environment
// variables. Robot-behavior parameters live in the parameter store, not here.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Telemetry TelemetryConfig
	Logging   LogConfig
	Params    ParamsConfig
	Watchdog  WatchdogConfig
}

// TelemetryConfig holds the external interface configuration.
type TelemetryConfig struct {
	Addr         string  `envconfig:"TELEMETRY_ADDR" default:"0.0.0.0:9870"`
	Enabled      bool    `envconfig:"TELEMETRY_ENABLED" default:"true"`
	Metrics      bool    `envconfig:"TELEMETRY_METRICS" default:"true"`
	MaxFrameRate float64 `envconfig:"TELEMETRY_MAX_FRAME_RATE" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ParamsConfig holds parameter file configuration.
type ParamsConfig struct {
	File  string `envconfig:"PARAMS_FILE" default:""`
	Watch bool   `envconfig:"PARAMS_WATCH" default:"true"`
}

// WatchdogConfig bounds how stale any cycler's output may grow before
// actuation is halted.
type WatchdogConfig struct {
	MaxStaleness time.Duration `envconfig:"WATCHDOG_MAX_STALENESS" default:"500ms"`
	Enabled      bool          `envconfig:"WATCHDOG_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Telemetry: TelemetryConfig{
			Addr:    "0.0.0.0:9870",
			Enabled: true,
			Metrics: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Params: ParamsConfig{
			Watch: true,
		},
		Watchdog: WatchdogConfig{
			MaxStaleness: 500 * time.Millisecond,
			Enabled:      true,
		},
	}
}
