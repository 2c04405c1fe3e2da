// Package config loads the bridge service configuration from an optional
// YAML file with environment variable overrides for deployment settings and
// secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the full service configuration.
	Config struct {
		// HTTP is the listen address of the bridge, host:port.
		HTTP HTTPConfig `yaml:"http"`
		// Upstream describes the ODAI pipeline API.
		Upstream UpstreamConfig `yaml:"upstream"`
		// Bus tunes the in-process session event bus.
		Bus BusConfig `yaml:"bus"`
		// Redis enables the Pulse stream mirror when Addr is set.
		Redis RedisConfig `yaml:"redis"`
	}

	// HTTPConfig holds listener settings.
	HTTPConfig struct {
		Addr string `yaml:"addr"`
	}

	// UpstreamConfig holds vendor API settings. AccessToken is normally
	// supplied via ODAI_ACCESS_TOKEN rather than the file.
	UpstreamConfig struct {
		BaseURL     string `yaml:"base_url"`
		AccessToken string `yaml:"access_token"`
		// ChatPerMinute caps chat turns per session. Zero disables the
		// limiter.
		ChatPerMinute int `yaml:"chat_per_minute"`
	}

	// BusConfig tunes session buffering and garbage collection.
	BusConfig struct {
		SubscriberBuffer int      `yaml:"subscriber_buffer"`
		IdleTTL          Duration `yaml:"idle_ttl"`
	}

	// Duration is a time.Duration that unmarshals from YAML strings like
	// "10m" or "90s".
	Duration time.Duration

	// RedisConfig configures the optional Pulse mirror.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}
)

// Environment variables honored by Load. They override file values.
const (
	EnvBaseURL     = "ODAI_API_BASE_URL"
	EnvAccessToken = "ODAI_ACCESS_TOKEN"
	EnvHTTPAddr    = "BRIDGE_HTTP_ADDR"
	EnvRedisAddr   = "BRIDGE_REDIS_ADDR"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Upstream: UpstreamConfig{ChatPerMinute: 6},
		Bus: BusConfig{
			SubscriberBuffer: 256,
			IdleTTL:          Duration(10 * time.Minute),
		},
	}
}

// Load reads the YAML file at path when path is non-empty, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.Upstream.AccessToken = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required (set upstream.base_url or %s)", EnvBaseURL)
	}
	if c.Bus.SubscriberBuffer <= 0 {
		return fmt.Errorf("bus subscriber buffer must be positive, got %d", c.Bus.SubscriberBuffer)
	}
	if c.Bus.IdleTTL <= 0 {
		return fmt.Errorf("bus idle TTL must be positive, got %s", time.Duration(c.Bus.IdleTTL))
	}
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts either a duration string or an integer nanosecond
// count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node %q", value.Value)
	}
	*d = Duration(n)
	return nil
}
