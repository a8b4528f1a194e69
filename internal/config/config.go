// Package config loads the process configuration from a YAML file plus
// environment overrides. Malformed configuration is fatal at startup
// and never surfaces mid-cycle.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	cberrors "cloud-chargeback/pkg/errors"
	"cloud-chargeback/pkg/platform"
)

// WindowSettings tunes one source's fetch/retention window, in days.
type WindowSettings struct {
	FetchWithinDays int `yaml:"fetch_within_days"`
	DaysPerQuery    int `yaml:"days_per_query"`
	MaxDaysInMemory int `yaml:"max_days_in_memory"`
}

// ClickHouseSettings configures the billing export warehouse.
type ClickHouseSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// Org configures one organization's chargeback instance.
type Org struct {
	ID         string `yaml:"id"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	EpochStart string `yaml:"epoch_start"` // YYYY-MM-DD, first day to backfill

	DirectoryURL  string `yaml:"directory_url"`
	TelemetryURL  string `yaml:"telemetry_url"`
	PrometheusURL string `yaml:"prometheus_url"`

	BillingMode string              `yaml:"billing_mode"` // clickhouse or http
	BillingURL  string              `yaml:"billing_url"`
	ClickHouse  *ClickHouseSettings `yaml:"clickhouse"`

	ArchiveDSN string `yaml:"archive_dsn"` // optional Postgres archive
}

// Epoch parses the org's backfill start date.
func (o Org) Epoch() (time.Time, error) {
	t, err := time.Parse("2006-01-02", o.EpochStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("org %s: bad epoch_start %q: %w", o.ID, o.EpochStart, err)
	}
	return t.UTC(), nil
}

// Config is the full process configuration.
type Config struct {
	ListenAddr                 string `yaml:"listen_addr"`
	SettlementLagHours         int    `yaml:"settlement_lag_hours"`
	RewindThreshold            int    `yaml:"rewind_threshold"`
	DirectoryRefreshMinMinutes int    `yaml:"directory_refresh_min_minutes"`
	ScrapeTimeoutSeconds       int    `yaml:"scrape_timeout_seconds"`

	HTTPTimeoutSeconds    int     `yaml:"http_timeout_seconds"`
	HTTPRetries           int     `yaml:"http_retries"`
	HTTPRequestsPerSecond float64 `yaml:"http_requests_per_second"`

	Windows struct {
		Billing WindowSettings `yaml:"billing"`
		Usage   WindowSettings `yaml:"usage"`
		Ledger  WindowSettings `yaml:"ledger"`
	} `yaml:"windows"`

	Organizations []Org `yaml:"organizations"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cberrors.NewConfigurationError("reading config file", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, cberrors.NewConfigurationError("parsing config file", err)
	}
	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9205"
	}
	if c.SettlementLagHours == 0 {
		c.SettlementLagHours = 48
	}
	if c.RewindThreshold == 0 {
		c.RewindThreshold = 50
	}
	if c.DirectoryRefreshMinMinutes == 0 {
		c.DirectoryRefreshMinMinutes = 30
	}
	if c.ScrapeTimeoutSeconds == 0 {
		c.ScrapeTimeoutSeconds = 55
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 30
	}
	if c.HTTPRetries == 0 {
		c.HTTPRetries = 3
	}
	if c.HTTPRequestsPerSecond == 0 {
		c.HTTPRequestsPerSecond = 5
	}
	defaultWindow(&c.Windows.Billing)
	defaultWindow(&c.Windows.Usage)
	defaultWindow(&c.Windows.Ledger)
}

// applyEnvOverrides lets a deployment override listener and cadence
// settings without editing the config file.
func (c *Config) applyEnvOverrides() {
	c.ListenAddr = platform.GetEnv("CHARGEBACK_LISTEN_ADDR", c.ListenAddr)
	c.SettlementLagHours = platform.GetEnvInt("CHARGEBACK_SETTLEMENT_LAG_HOURS", c.SettlementLagHours)
	c.RewindThreshold = platform.GetEnvInt("CHARGEBACK_REWIND_THRESHOLD", c.RewindThreshold)
	c.ScrapeTimeoutSeconds = platform.GetEnvInt("CHARGEBACK_SCRAPE_TIMEOUT_SECONDS", c.ScrapeTimeoutSeconds)
}

func defaultWindow(w *WindowSettings) {
	if w.FetchWithinDays == 0 {
		w.FetchWithinDays = 2
	}
	if w.DaysPerQuery == 0 {
		w.DaysPerQuery = 7
	}
	if w.MaxDaysInMemory == 0 {
		w.MaxDaysInMemory = 14
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if len(c.Organizations) == 0 {
		return cberrors.NewConfigurationError("no organizations configured", nil)
	}
	seen := make(map[string]bool)
	for _, org := range c.Organizations {
		if org.ID == "" {
			return cberrors.NewConfigurationError("organization with empty id", nil)
		}
		if seen[org.ID] {
			return cberrors.NewConfigurationError(fmt.Sprintf("duplicate organization id %s", org.ID), nil)
		}
		seen[org.ID] = true

		if _, err := org.Epoch(); err != nil {
			return cberrors.NewConfigurationError("bad epoch_start", err)
		}
		if org.PrometheusURL == "" {
			return cberrors.NewConfigurationError(fmt.Sprintf("org %s: prometheus_url is required", org.ID), nil)
		}
		switch org.BillingMode {
		case "clickhouse":
			if org.ClickHouse == nil {
				return cberrors.NewConfigurationError(fmt.Sprintf("org %s: clickhouse settings required", org.ID), nil)
			}
		case "http":
			if org.BillingURL == "" {
				return cberrors.NewConfigurationError(fmt.Sprintf("org %s: billing_url is required", org.ID), nil)
			}
		default:
			return cberrors.NewConfigurationError(fmt.Sprintf("org %s: unknown billing_mode %q", org.ID, org.BillingMode), nil)
		}
	}
	return nil
}
