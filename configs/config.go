// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package configs

import (
	"errors"
	"fmt"
	"os"
	"time"

	feed "github.com/GwynCerbin/amqp_feed"
	"github.com/GwynCerbin/amqp_feed/pkg/adapter"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogLevel        = "info"
	defaultMetricsAddr     = ":9090"
	defaultShutdownTimeout = 10 * time.Second
)

// Environment overrides applied after the file is parsed.
const (
	EnvLogLevel    = "AMQPFEED_LOG_LEVEL"
	EnvMetricsAddr = "AMQPFEED_METRICS_ADDR"
)

type Config struct {
	LogLevel        string         `env:"AMQPFEED_LOG_LEVEL" yaml:"log_level"`
	MetricsAddr     string         `env:"AMQPFEED_METRICS_ADDR" yaml:"metrics_addr"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	RemoveOnDisable bool           `yaml:"remove_on_disable"`
	Client          adapter.Client `yaml:"client"`
	Feeds           []Feed         `yaml:"feeds"`
}

// Feed binds a trigger id to the parameters of its queue.
type Feed struct {
	ID          string `yaml:"id"`
	feed.Params `yaml:",inline"`
}

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides, then validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	cfg := Config{
		LogLevel:        defaultLogLevel,
		MetricsAddr:     defaultMetricsAddr,
		ShutdownTimeout: defaultShutdownTimeout,
	}

	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate reports every problem of c at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout %s must be >= 0", c.ShutdownTimeout))
	}

	if c.Client.TcpHeartBeat < 0 {
		errs = append(errs, fmt.Errorf("client: tcp_heartbeat %s must be >= 0", c.Client.TcpHeartBeat))
	}

	seen := make(map[string]struct{}, len(c.Feeds))

	for i, f := range c.Feeds {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: id is required", i))
			continue
		}

		if _, ok := seen[f.ID]; ok {
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = struct{}{}

		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d] %s: url is required", i, f.ID))
		}

		if f.Queue == "" {
			errs = append(errs, fmt.Errorf("feeds[%d] %s: queue is required", i, f.ID))
		}
	}

	return errors.Join(errs...)
}
