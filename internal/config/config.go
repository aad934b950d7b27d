package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"SpotSentinel/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Entsoe struct {
		Token   string `yaml:"token"`
		BaseURL string `yaml:"base_url"`
		Area    string `yaml:"area"`
	} `yaml:"entsoe"`
	Market struct {
		Name            string `yaml:"name"`
		Timezone        string `yaml:"timezone"`
		QuarterHourFrom string `yaml:"quarter_hour_from"`
	} `yaml:"market"`
	Pricing struct {
		VATRate            float64 `yaml:"vat_rate"`
		DefaultMarginCents float64 `yaml:"default_margin_cents"`
	} `yaml:"pricing"`
	Schedule struct {
		HealthCron   string `yaml:"health_cron"`
		RotationCron string `yaml:"rotation_cron"`
		WindowStart  string `yaml:"window_start"`
		WindowEnd    string `yaml:"window_end"`
	} `yaml:"schedule"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ENTSOE_API_TOKEN"); v != "" {
		cfg.Entsoe.Token = v
	}
	if v := os.Getenv("ENTSOE_BASE_URL"); v != "" {
		cfg.Entsoe.BaseURL = v
	}
	if v := os.Getenv("SPOT_AREA"); v != "" {
		cfg.Entsoe.Area = v
	}
	if v := os.Getenv("DEFAULT_MARGIN_CENTS_PER_KWH"); v != "" {
		if margin, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.DefaultMarginCents = margin
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	// Defaults
	if cfg.Entsoe.BaseURL == "" {
		cfg.Entsoe.BaseURL = "https://web-api.tp.entsoe.eu/api"
	}
	if cfg.Entsoe.Area == "" {
		cfg.Entsoe.Area = "10YFI-1--------U"
	}
	if cfg.Market.Name == "" {
		cfg.Market.Name = "FI"
	}
	if cfg.Market.Timezone == "" {
		cfg.Market.Timezone = "Europe/Helsinki"
	}
	if cfg.Market.QuarterHourFrom == "" {
		cfg.Market.QuarterHourFrom = "2025-10-01"
	}
	if cfg.Pricing.VATRate == 0 {
		cfg.Pricing.VATRate = 0.255
	}
	if cfg.Pricing.DefaultMarginCents == 0 {
		cfg.Pricing.DefaultMarginCents = 0.60
	}
	if cfg.Schedule.HealthCron == "" {
		cfg.Schedule.HealthCron = "0 */15 * * * *"
	}
	if cfg.Schedule.RotationCron == "" {
		cfg.Schedule.RotationCron = "5 0 0 * * *"
	}
	if cfg.Schedule.WindowStart == "" {
		cfg.Schedule.WindowStart = "14:00"
	}
	if cfg.Schedule.WindowEnd == "" {
		cfg.Schedule.WindowEnd = "14:30"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	return cfg, nil
}

// Validate checks that all required fields are set and parseable.
func (c *Config) Validate() error {
	if c.Entsoe.Token == "" {
		return fmt.Errorf("entsoe.token is required (ENTSOE_API_TOKEN)")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	if _, err := model.ParseDate(c.Market.QuarterHourFrom); err != nil {
		return fmt.Errorf("market.quarter_hour_from: %w", err)
	}
	for _, w := range []string{c.Schedule.WindowStart, c.Schedule.WindowEnd} {
		if _, err := time.Parse("15:04", w); err != nil {
			return fmt.Errorf("schedule window %q: %w", w, err)
		}
	}
	return nil
}

// Location returns the publisher's local timezone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
