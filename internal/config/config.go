// Package config loads the dashboard and daemon configuration from a YAML
// file. A missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iolloyd/tcpdoctor/internal/coordinator"
	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

const (
	// DefaultHistoryPoints is the chart resolution when none is configured
	DefaultHistoryPoints = 120
	// DefaultListenAddr is where the daemon serves websocket clients
	DefaultListenAddr = ":8080"
)

// LogConfig configures the rotating log file
type LogConfig struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FilterConfig is the filter applied at startup
type FilterConfig struct {
	Search       string                   `yaml:"search"`
	Family       string                   `yaml:"family"`
	State        string                   `yaml:"state"`
	HidePrivate  bool                     `yaml:"hide_private"`
	HideLoopback bool                     `yaml:"hide_loopback"`
	Conditions   []filter.MetricCondition `yaml:"conditions"`
}

// Config is the complete configuration
type Config struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	Daemon            string        `yaml:"daemon"`
	Listen            string        `yaml:"listen"`
	HistoryPoints     int           `yaml:"history_points"`
	MaxSessionEntries int           `yaml:"max_session_entries"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Log               LogConfig     `yaml:"log"`
	Filter            FilterConfig  `yaml:"filter"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		PollInterval:  coordinator.DefaultPollInterval,
		Listen:        DefaultListenAddr,
		HistoryPoints: DefaultHistoryPoints,
		Log: LogConfig{
			Path:       DefaultLogPath(),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultPath returns ~/.config/tcpdoctor/config.yaml or its platform equivalent
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tcpdoctor.yaml"
	}
	return filepath.Join(dir, "tcpdoctor", "config.yaml")
}

// DefaultLogPath returns ~/.cache/tcpdoctor/tcpdoctor.log or its platform
// equivalent. The dashboard owns the terminal, so logs always go to a file.
func DefaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tcpdoctor", "tcpdoctor.log")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize clamps values into their valid ranges
func (c *Config) normalize() {
	switch {
	case c.PollInterval <= 0:
		c.PollInterval = coordinator.DefaultPollInterval
	case c.PollInterval < coordinator.MinPollInterval:
		c.PollInterval = coordinator.MinPollInterval
	}
	if c.HistoryPoints <= 0 {
		c.HistoryPoints = DefaultHistoryPoints
	}
	if c.MaxSessionEntries < 0 {
		c.MaxSessionEntries = 0
	}
	if c.Listen == "" {
		c.Listen = DefaultListenAddr
	}
}

// Criteria converts the startup filter. Conditions naming an unknown field
// are dropped.
func (c *Config) Criteria() filter.Criteria {
	criteria := filter.Criteria{
		Search:       c.Filter.Search,
		Family:       filter.ParseAddressFamily(c.Filter.Family),
		State:        models.ParseTCPState(c.Filter.State),
		HidePrivate:  c.Filter.HidePrivate,
		HideLoopback: c.Filter.HideLoopback,
	}
	for _, mc := range c.Filter.Conditions {
		if field, ok := filter.ParseField(string(mc.Field)); ok {
			criteria.Metrics = append(criteria.Metrics, filter.MetricCondition{Field: field, Expr: mc.Expr})
		}
	}
	return criteria
}
