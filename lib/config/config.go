// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent tuning file.
//
// Configuration comes from a single yaml file specified by the
// WINPTY_AGENT_CONFIG environment variable or the --config flag. There
// is no search path and no automatic discovery; an absent file means
// defaults. Every field has a working default, so the file only needs
// to name the values it overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is passed.
const EnvVar = "WINPTY_AGENT_CONFIG"

// Config holds the agent's tunables.
type Config struct {
	// PollIntervalMS is the lifecycle poll interval in milliseconds.
	// 25ms keeps scraped output interactive without burning CPU.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// ControlReadBufferBytes is the initial read buffer for the control
	// channel. The channel grows past this on demand for oversized
	// packets.
	ControlReadBufferBytes int `yaml:"control_read_buffer_bytes"`

	// DataReadBufferBytes is the read buffer for the input data channel.
	DataReadBufferBytes int `yaml:"data_read_buffer_bytes"`

	// OutboundBufferBytes is the pipe-side outbound buffer for output
	// data channels.
	OutboundBufferBytes int `yaml:"outbound_buffer_bytes"`

	// PipeNamePrefix is prepended to generated data channel names.
	PipeNamePrefix string `yaml:"pipe_name_prefix"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		PollIntervalMS:         25,
		ControlReadBufferBytes: 64 * 1024,
		DataReadBufferBytes:    64 * 1024,
		OutboundBufferBytes:    8 * 1024,
		PipeNamePrefix:         `\\.\pipe\winpty-`,
		LogLevel:               "info",
	}
}

// Load reads the tuning file at path. An empty path falls back to
// EnvVar; if that is also unset, or the file does not exist, Load
// returns Default(). A file that exists but fails to parse is an
// error — a present-but-broken config should not be silently ignored.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	configuration := Default()
	if path == "" {
		return configuration, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return configuration, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &configuration); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := configuration.validate(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return configuration, nil
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) validate() error {
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	if c.ControlReadBufferBytes <= 0 {
		return fmt.Errorf("control_read_buffer_bytes must be positive, got %d", c.ControlReadBufferBytes)
	}
	if c.DataReadBufferBytes <= 0 {
		return fmt.Errorf("data_read_buffer_bytes must be positive, got %d", c.DataReadBufferBytes)
	}
	if c.OutboundBufferBytes <= 0 {
		return fmt.Errorf("outbound_buffer_bytes must be positive, got %d", c.OutboundBufferBytes)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
