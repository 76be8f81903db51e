// Package config loads broker configuration from the environment using
// caarlos0/env struct tags plus an optional .env file via joho/godotenv.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-tunable setting the broker needs at
// startup, each field backed by a STOMP_-prefixed environment variable.
type Config struct {
	ListenHost string `env:"STOMP_LISTEN_HOST" envDefault:"::1"`
	ListenPort int    `env:"STOMP_LISTEN_PORT" envDefault:"61613"`

	MetricsAddr string `env:"STOMP_METRICS_ADDR" envDefault:":9100"`

	MaxConnections     int     `env:"STOMP_MAX_CONNECTIONS" envDefault:"10000"`
	GlobalAcceptBurst  int     `env:"STOMP_GLOBAL_ACCEPT_BURST" envDefault:"300"`
	GlobalAcceptRate   float64 `env:"STOMP_GLOBAL_ACCEPT_RATE" envDefault:"50.0"`
	PerIPAcceptBurst   int     `env:"STOMP_PER_IP_ACCEPT_BURST" envDefault:"10"`
	PerIPAcceptRate    float64 `env:"STOMP_PER_IP_ACCEPT_RATE" envDefault:"1.0"`
	PerIPTTL           time.Duration `env:"STOMP_PER_IP_TTL" envDefault:"5m"`
	CPURejectThreshold float64 `env:"STOMP_CPU_REJECT_THRESHOLD" envDefault:"90.0"`
	ResourceSampleInterval time.Duration `env:"STOMP_RESOURCE_SAMPLE_INTERVAL" envDefault:"15s"`

	QueueSizeMax int `env:"STOMP_QUEUE_SIZE_MAX" envDefault:"1024"`
	QueueNackMax int `env:"STOMP_QUEUE_NACK_MAX" envDefault:"3"`

	LogLevel  string `env:"STOMP_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"STOMP_LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if present) then the process environment, applying
// defaults for anything unset. A missing .env file is not an error, since
// production deploys set real environment variables instead.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate rejects out-of-range or unrecognized field values.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("STOMP_LISTEN_PORT must be 1-65535, got %d", c.ListenPort)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("STOMP_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("STOMP_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("STOMP_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("STOMP_LOG_FORMAT must be one of json, console (got %q)", c.LogFormat)
	}
	return nil
}

// LogFields logs the loaded configuration as a structured summary on
// startup.
func (c *Config) LogFields(log zerolog.Logger) {
	log.Info().
		Str("listen_host", c.ListenHost).
		Int("listen_port", c.ListenPort).
		Str("metrics_addr", c.MetricsAddr).
		Int("max_connections", c.MaxConnections).
		Float64("global_accept_rate", c.GlobalAcceptRate).
		Float64("per_ip_accept_rate", c.PerIPAcceptRate).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Int("queue_size_max", c.QueueSizeMax).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
