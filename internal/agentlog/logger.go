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

// Package agentlog provides the structured logging conventions shared by
// every AgentFlow component: the runner service, the dispatcher, the store
// backends, and the CLI/daemon entry points.
package agentlog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug, used for step-by-step interpreter tracing.
const LevelTrace = slog.Level(-8)

// Standard field keys, used consistently across every component so that
// logs from independently-running runner service processes correlate.
const (
	RunnerIDKey = "runner_id"
	FlowIDKey   = "flow_id"
	StepIDKey   = "step_id"
	EventIDKey  = "event_id"
	TaskIDKey   = "task_id"
	ServerIDKey = "server_id"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error). Default: info.
	Level string
	// Format sets the output format (json, text). Default: json.
	Format Format
	// Output is the writer for log output. Default: os.Stderr.
	Output io.Writer
	// AddSource adds source file and line information to logs. Default: false.
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv creates a Config from environment variables.
//
//   - AGENTFLOW_DEBUG: true/1 enables debug level and source logging
//   - AGENTFLOW_LOG_LEVEL: trace, debug, info, warn, error
//   - AGENTFLOW_LOG_FORMAT: json, text
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("AGENTFLOW_DEBUG"); v == "true" || v == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("AGENTFLOW_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("AGENTFLOW_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a new logger tagged with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithRunner returns a new logger tagged with runner and flow context.
func WithRunner(logger *slog.Logger, runnerID, flowID string) *slog.Logger {
	return logger.With(slog.String(RunnerIDKey, runnerID), slog.String(FlowIDKey, flowID))
}

// WithStep returns a new logger tagged with runner and step context.
func WithStep(logger *slog.Logger, runnerID, stepID string) *slog.Logger {
	return logger.With(slog.String(RunnerIDKey, runnerID), slog.String(StepIDKey, stepID))
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Trace logs a message at trace level, used for interpreter step tracing.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(nil, LevelTrace) {
		return
	}
	logger.LogAttrs(nil, LevelTrace, msg, attrs...)
}
