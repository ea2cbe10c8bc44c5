// Package config loads fxalert settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/logging"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "fxalert.yaml"

// Config holds all fxalert configuration.
type Config struct {
	Alerters AlertersConfig `yaml:"alerters"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Logging  logging.Config `yaml:"logging"`
}

// AlertersConfig selects and parameterizes the alerters, in run order.
type AlertersConfig struct {
	MovingAverage MovingAverageConfig `yaml:"moving_average"`
	Trending      TrendingConfig      `yaml:"trending"`
}

// MovingAverageConfig configures the spot change alerter.
type MovingAverageConfig struct {
	Enabled bool `yaml:"enabled"`
	// Periods is the number of rates averaged before the tested rate
	Periods int `yaml:"periods"`
	// ThresholdPercent is the relative change that raises spotChange
	ThresholdPercent float64 `yaml:"threshold_percent"`
}

// TrendingConfig configures the rising/falling alerter.
type TrendingConfig struct {
	Enabled             bool  `yaml:"enabled"`
	MinimumTrendSeconds int64 `yaml:"minimum_trend_seconds"`
	ThrottleSeconds     int64 `yaml:"throttle_seconds"`
}

// InputConfig controls how input lines are mapped.
type InputConfig struct {
	// Format is auto, json or csv
	Format      string `yaml:"format"`
	SkipInvalid bool   `yaml:"skip_invalid"`
	Follow      bool   `yaml:"follow"`
}

// OutputConfig controls where alerts go.
type OutputConfig struct {
	// Path is the alert file; empty or "-" means stdout
	Path string     `yaml:"path"`
	Sink SinkConfig `yaml:"sink"`
}

// SinkConfig configures forwarding to a remote alert collector.
type SinkConfig struct {
	// Address of the collector; empty disables forwarding
	Address        string        `yaml:"address"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Alerters: AlertersConfig{
			MovingAverage: MovingAverageConfig{
				Enabled:          true,
				Periods:          300,
				ThresholdPercent: 10,
			},
			Trending: TrendingConfig{
				Enabled:             true,
				MinimumTrendSeconds: 900,
				ThrottleSeconds:     60,
			},
		},
		Input: InputConfig{
			Format: "auto",
		},
		Output: OutputConfig{
			Sink: SinkConfig{
				BatchSize:      100,
				BatchTimeout:   5 * time.Second,
				ConnectTimeout: 10 * time.Second,
				MaxRetries:     3,
			},
		},
		Logging: *logging.DefaultConfig(),
	}
}

// Load reads the config at path. A missing file yields the defaults.
// FXALERT_* environment variables are applied on top in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fxerrors.NewConfigInvalidError(fmt.Sprintf("failed to parse config %s", path), err)
		}
	case os.IsNotExist(err):
		// Return defaults if config file doesn't exist
	default:
		return nil, fxerrors.NewConfigInvalidError(fmt.Sprintf("failed to read config %s", path), err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	ma := c.Alerters.MovingAverage
	tr := c.Alerters.Trending

	if !ma.Enabled && !tr.Enabled {
		return fxerrors.NewConfigValidationError("alerters", "none", "at least one alerter must be enabled")
	}
	if ma.Enabled {
		if ma.Periods < 1 {
			return fxerrors.NewConfigValidationError("alerters.moving_average.periods", ma.Periods, "must be at least 1")
		}
		if ma.ThresholdPercent <= 0 {
			return fxerrors.NewConfigValidationError("alerters.moving_average.threshold_percent", ma.ThresholdPercent, "must be positive")
		}
	}
	if tr.Enabled {
		if tr.MinimumTrendSeconds < 0 {
			return fxerrors.NewConfigValidationError("alerters.trending.minimum_trend_seconds", tr.MinimumTrendSeconds, "must be non-negative")
		}
		if tr.ThrottleSeconds < 0 {
			return fxerrors.NewConfigValidationError("alerters.trending.throttle_seconds", tr.ThrottleSeconds, "must be non-negative")
		}
	}

	switch strings.ToLower(c.Input.Format) {
	case "", "auto", "json", "csv":
	default:
		return fxerrors.NewConfigValidationError("input.format", c.Input.Format, "must be auto, json or csv")
	}

	if c.Output.Sink.Address != "" {
		if c.Output.Sink.BatchSize <= 0 {
			return fxerrors.NewConfigValidationError("output.sink.batch_size", c.Output.Sink.BatchSize, "must be positive")
		}
		if c.Output.Sink.BatchTimeout <= 0 {
			return fxerrors.NewConfigValidationError("output.sink.batch_timeout", c.Output.Sink.BatchTimeout, "must be positive")
		}
		if c.Output.Sink.MaxRetries < 0 {
			return fxerrors.NewConfigValidationError("output.sink.max_retries", c.Output.Sink.MaxRetries, "must be non-negative")
		}
	}

	return nil
}

// applyEnvOverrides applies FXALERT_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("FXALERT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FXALERT_INPUT_FORMAT"); v != "" {
		c.Input.Format = v
	}
	if v := os.Getenv("FXALERT_OUTPUT"); v != "" {
		c.Output.Path = v
	}
	if v := os.Getenv("FXALERT_SINK_ADDRESS"); v != "" {
		c.Output.Sink.Address = v
	}
	if v := os.Getenv("FXALERT_MOVING_AVERAGE_PERIODS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fxerrors.NewConfigValidationError("FXALERT_MOVING_AVERAGE_PERIODS", v, "must be an integer")
		}
		c.Alerters.MovingAverage.Periods = n
	}
	if v := os.Getenv("FXALERT_SPOT_CHANGE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fxerrors.NewConfigValidationError("FXALERT_SPOT_CHANGE_THRESHOLD", v, "must be a number")
		}
		c.Alerters.MovingAverage.ThresholdPercent = f
	}
	if v := os.Getenv("FXALERT_TREND_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fxerrors.NewConfigValidationError("FXALERT_TREND_SECONDS", v, "must be an integer")
		}
		c.Alerters.Trending.MinimumTrendSeconds = n
	}
	if v := os.Getenv("FXALERT_TREND_THROTTLE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fxerrors.NewConfigValidationError("FXALERT_TREND_THROTTLE", v, "must be an integer")
		}
		c.Alerters.Trending.ThrottleSeconds = n
	}
	return nil
}
