// Package config loads process configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the FleetHub control plane.
type Config struct {
	Port    int    `yaml:"port"`
	Version string `yaml:"version"`
	DataDir string `yaml:"data_dir"`

	// AuthToken is the static admin bearer; API keys work regardless.
	AuthToken string `yaml:"auth_token"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Feed      FeedConfig      `yaml:"feed"`
	Registry  RegistryConfig  `yaml:"registry"`
	Retention RetentionConfig `yaml:"retention"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type RateLimitConfig struct {
	Max      int `yaml:"max"`
	WindowMS int `yaml:"window_ms"`
}

// Window returns the sliding window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

type FeedConfig struct {
	// Ring bounds the replay ring and the in-memory feed window.
	Ring int `yaml:"ring"`
}

type RegistryConfig struct {
	// StaleAfterMS is how long a running VM may go without a heartbeat
	// before discovery stops returning it.
	StaleAfterMS int `yaml:"stale_after_ms"`
}

// StaleAfter returns the staleness threshold as a duration.
func (c RegistryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMS) * time.Millisecond
}

type RetentionConfig struct {
	// Days keeps that many days of feed/journal/log history; 0 disables
	// pruning.
	Days int `yaml:"days"`

	// IntervalMS is how often the janitor sweeps.
	IntervalMS int `yaml:"interval_ms"`
}

// Interval returns the sweep interval as a duration.
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

type TwilioConfig struct {
	AuthToken      string   `yaml:"auth_token"`
	WebhookURL     string   `yaml:"webhook_url"`
	AllowedNumbers []string `yaml:"allowed_numbers"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load builds the configuration. Precedence: defaults < FLEETHUB_CONFIG
// yaml file (default ./fleethub.yaml when present) < environment.
func Load() *Config {
	cfg := &Config{
		Port:      8080,
		Version:   "0.4.0",
		DataDir:   "data",
		RateLimit: RateLimitConfig{Max: 120, WindowMS: 60_000},
		Feed:      FeedConfig{Ring: 1000},
		Registry:  RegistryConfig{StaleAfterMS: int((5 * time.Minute).Milliseconds())},
		Retention: RetentionConfig{Days: 0, IntervalMS: int(time.Hour.Milliseconds())},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "fleethub",
		},
	}

	path := envStr("FLEETHUB_CONFIG", "fleethub.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config file ignored")
		}
	}

	cfg.Port = envInt("FLEETHUB_PORT", cfg.Port)
	cfg.DataDir = envStr("FLEETHUB_DATA_DIR", cfg.DataDir)
	cfg.AuthToken = envStr("AUTH_TOKEN", cfg.AuthToken)
	cfg.RateLimit.Max = envInt("FLEETHUB_RATE_LIMIT", cfg.RateLimit.Max)
	cfg.RateLimit.WindowMS = envInt("FLEETHUB_RATE_WINDOW_MS", cfg.RateLimit.WindowMS)
	cfg.Feed.Ring = envInt("FLEETHUB_FEED_RING", cfg.Feed.Ring)
	cfg.Registry.StaleAfterMS = envInt("FLEETHUB_STALE_VM_THRESHOLD", cfg.Registry.StaleAfterMS)
	cfg.Retention.Days = envInt("FLEETHUB_RETENTION_DAYS", cfg.Retention.Days)
	cfg.Twilio.AuthToken = envStr("TWILIO_AUTH_TOKEN", cfg.Twilio.AuthToken)
	cfg.Twilio.WebhookURL = envStr("TWILIO_WEBHOOK_URL", cfg.Twilio.WebhookURL)
	if csv := os.Getenv("TWILIO_ALLOWED_NUMBERS"); csv != "" {
		cfg.Twilio.AllowedNumbers = splitCSV(csv)
	}
	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)

	return cfg
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
