package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/session"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted values of Config.OutputFormat.
var OutputFormats = []string{"table", "json"}

// Config holds application configuration
type Config struct {
	LogLevel             string        `yaml:"log_level" json:"log_level" default:"info"`
	ScanTimeout          time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"15s"`
	ConnectHardTimeout   time.Duration `yaml:"connect_hard_timeout" json:"connect_hard_timeout" default:"16s"`
	DiscoverySettleDelay time.Duration `yaml:"discovery_settle_delay" json:"discovery_settle_delay" default:"1500ms"`
	NotificationBuffer   int           `yaml:"notification_buffer" json:"notification_buffer" default:"128"`
	OutputFormat         string        `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("output_format: unknown format %q (want one of %v)", c.OutputFormat, OutputFormats)
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":           c.ScanTimeout,
		"connect_timeout":        c.ConnectTimeout,
		"connect_hard_timeout":   c.ConnectHardTimeout,
		"discovery_settle_delay": c.DiscoverySettleDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s: must not be negative, got %s", name, d)
		}
	}
	return nil
}

// Level returns the configured log level, falling back to info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions returns the session timing described by the config.
func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		ConnectTimeout:       c.ConnectTimeout,
		ConnectHardTimeout:   c.ConnectHardTimeout,
		DiscoverySettleDelay: c.DiscoverySettleDelay,
		NotificationBuffer:   c.NotificationBuffer,
	}
}
