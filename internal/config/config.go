// Package config loads loopbridge configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/roach88/loopbridge/internal/notify"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the on-disk configuration.
//
// Defaults (when fields are omitted/zero):
//   - database: "loopbridge.db"
//   - index_base: "zero"
//   - log.level: "info"
//   - notify.failure_log_rate: 10 (per second)
//   - notify.failure_log_burst: 10
//   - workers: 4
//   - timeout: "30s"
type Config struct {
	Database  string       `yaml:"database"`
	IndexBase string       `yaml:"index_base"`
	Log       LogConfig    `yaml:"log"`
	Notify    NotifyConfig `yaml:"notify"`
	Workers   int          `yaml:"workers"`

	// Timeout bounds a whole scenario run. Go duration string.
	Timeout string `yaml:"timeout"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level"`
}

// NotifyConfig controls callback failure logging.
// A negative rate disables the limit.
type NotifyConfig struct {
	FailureLogRate  float64 `yaml:"failure_log_rate"`
	FailureLogBurst int     `yaml:"failure_log_burst"`
}

const (
	DefaultDatabase = "loopbridge.db"
	DefaultWorkers  = 4
	DefaultTimeout  = 30 * time.Second
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and validates the config at path. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults, and validates.
// Empty input yields the default config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.IndexBase == "" {
		c.IndexBase = notify.ZeroBased.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Notify.FailureLogRate == 0 {
		c.Notify.FailureLogRate = float64(notify.DefaultFailureLogRate)
	}
	if c.Notify.FailureLogBurst == 0 {
		c.Notify.FailureLogBurst = notify.DefaultFailureLogBurst
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if strings.TrimSpace(c.Timeout) == "" {
		c.Timeout = DefaultTimeout.String()
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := notify.ParseIndexBase(c.IndexBase); err != nil {
		return fmt.Errorf("%w: index_base: %v", ErrInvalid, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Notify.FailureLogBurst < 0 {
		return fmt.Errorf("%w: notify.failure_log_burst must be >= 0", ErrInvalid)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalid)
	}
	if _, err := ParseDurationField("timeout", c.Timeout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Base returns the parsed index convention.
func (c *Config) Base() notify.IndexBase {
	base, _ := notify.ParseIndexBase(c.IndexBase)
	return base
}

// Level returns the slog level. Unknown levels fall back to info.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// FailureLogLimit returns the rate limiter settings for callback failures.
func (c *Config) FailureLogLimit() (rate.Limit, int) {
	if c.Notify.FailureLogRate < 0 {
		return rate.Inf, c.Notify.FailureLogBurst
	}
	return rate.Limit(c.Notify.FailureLogRate), c.Notify.FailureLogBurst
}

// RunTimeout returns the parsed scenario timeout.
func (c *Config) RunTimeout() time.Duration {
	d, err := ParseDurationOrDefault("timeout", c.Timeout, DefaultTimeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// ParseDurationField parses a non-negative Go duration string.
// Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
