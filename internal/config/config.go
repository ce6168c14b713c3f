// Copyright 2026 AgentFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves AgentFlow's runtime configuration: store
// connection, runner tuning, and server identity. Resolution order is
// explicit argument, then environment variable, then YAML config file,
// then built-in default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures a store backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver"`
	// DSN is the backend connection string; unused for "memory".
	DSN string `yaml:"dsn"`
}

// RunnerConfig tunes a single runner process's poll loop.
type RunnerConfig struct {
	// Topics filters which task topics this runner claims. Empty means all.
	Topics []string `yaml:"topics"`
	// MaxConcurrent bounds steps this runner executes at once.
	MaxConcurrent int `yaml:"maxConcurrent"`
	// PollInterval is the delay between sweeps for ready steps, pending
	// events, and claimable tasks.
	PollInterval time.Duration `yaml:"pollInterval"`
	// HeartbeatInterval is how often the runner refreshes its server row's ping_time.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// ClaimStaleAfter is how long since the last heartbeat before a server
	// is presumed dead and its claimed tasks are requeued to pending.
	ClaimStaleAfter time.Duration `yaml:"claimStaleAfter"`
	// ShutdownGrace bounds how long graceful shutdown waits for in-flight
	// steps before forcing a requeue of everything still owned.
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

// LockConfig tunes the distributed lock/lease primitive.
type LockConfig struct {
	// DefaultDuration is the lease length granted by Acquire when the
	// caller does not specify one.
	DefaultDuration time.Duration `yaml:"defaultDuration"`
}

// ServerConfig identifies this process among others sharing a store.
type ServerConfig struct {
	// ID is this server's identity row key. Defaults to a generated UUID.
	ID string `yaml:"id"`
}

// TracingConfig selects the span exporter agentobs wires into the engine's
// TracerProvider.
type TracingConfig struct {
	// Exporter is one of "console" (default) or "none".
	Exporter string `yaml:"exporter"`
}

// Config is the fully resolved configuration for an agentflowd process.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Runner  RunnerConfig  `yaml:"runner"`
	Lock    LockConfig    `yaml:"lock"`
	Server  ServerConfig  `yaml:"server"`
	Tracing TracingConfig `yaml:"tracing"`
	// HTTPAddr is the resource API listen address (read endpoints plus
	// workflow submit and cancel). Empty disables it.
	HTTPAddr string `yaml:"httpAddr"`
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "memory"},
		Runner: RunnerConfig{
			MaxConcurrent:     4,
			PollInterval:      500 * time.Millisecond,
			HeartbeatInterval: 5 * time.Second,
			ClaimStaleAfter:   30 * time.Second,
			ShutdownGrace:     15 * time.Second,
		},
		Lock:    LockConfig{DefaultDuration: 30 * time.Second},
		Tracing: TracingConfig{Exporter: "console"},
	}
}

// Load resolves configuration: start from Default, overlay a YAML file at
// path if it exists and is non-empty, then overlay environment variables.
// path may be empty, in which case only defaults and env are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("AGENTFLOW_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_TOPICS"); v != "" {
		cfg.Runner.Topics = strings.Split(v, ",")
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxConcurrent = n
		}
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.PollInterval = d
		}
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_CLAIM_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.ClaimStaleAfter = d
		}
	}
	if v := os.Getenv("AGENTFLOW_RUNNER_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.ShutdownGrace = d
		}
	}
	if v := os.Getenv("AGENTFLOW_LOCK_DEFAULT_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.DefaultDuration = d
		}
	}
	if v := os.Getenv("AGENTFLOW_SERVER_ID"); v != "" {
		cfg.Server.ID = v
	}
	if v := os.Getenv("AGENTFLOW_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("AGENTFLOW_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
}
