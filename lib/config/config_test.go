// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileIsDefault(t *testing.T) {
	t.Setenv(EnvVar, "")
	configuration, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults", configuration)
	}
	if configuration.PollInterval() != 25*time.Millisecond {
		t.Errorf("PollInterval = %v, want 25ms", configuration.PollInterval())
	}
}

func TestLoadOverridesSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := "poll_interval_ms: 10\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	configuration, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration.PollIntervalMS != 10 {
		t.Errorf("PollIntervalMS = %d, want 10", configuration.PollIntervalMS)
	}
	if configuration.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", configuration.LogLevel)
	}
	// Untouched fields keep their defaults.
	if configuration.ControlReadBufferBytes != Default().ControlReadBufferBytes {
		t.Errorf("ControlReadBufferBytes = %d, want default", configuration.ControlReadBufferBytes)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("poll_interval_ms: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	configuration, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration.PollIntervalMS != 5 {
		t.Errorf("PollIntervalMS = %d, want 5", configuration.PollIntervalMS)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"negative interval": "poll_interval_ms: -1\n",
		"zero buffer":       "control_read_buffer_bytes: 0\n",
		"bad level":         "log_level: loud\n",
		"bad yaml":          ":\n  - [\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load accepted %q", name, content)
		}
	}
}
