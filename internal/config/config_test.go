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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected default driver 'memory', got %q", cfg.Store.Driver)
	}
	if cfg.Runner.MaxConcurrent != 4 {
		t.Errorf("expected default maxConcurrent 4, got %d", cfg.Runner.MaxConcurrent)
	}
}

func TestDefaultTracingExporterIsConsole(t *testing.T) {
	cfg := Default()
	if cfg.Tracing.Exporter != "console" {
		t.Errorf("expected default tracing exporter 'console', got %q", cfg.Tracing.Exporter)
	}
}

func TestEnvOverridesTracingExporter(t *testing.T) {
	t.Setenv("AGENTFLOW_TRACING_EXPORTER", "none")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracing.Exporter != "none" {
		t.Errorf("expected env to override tracing exporter, got %q", cfg.Tracing.Exporter)
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected default driver when file missing, got %q", cfg.Store.Driver)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentflow.yaml")
	contents := "store:\n  driver: sqlite\n  dsn: file:test.db\nrunner:\n  maxConcurrent: 8\n"
	if err := writeFile(path, contents); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "file:test.db" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Runner.MaxConcurrent != 8 {
		t.Errorf("expected maxConcurrent 8, got %d", cfg.Runner.MaxConcurrent)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentflow.yaml")
	if err := writeFile(path, "store:\n  driver: sqlite\n"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	t.Setenv("AGENTFLOW_STORE_DRIVER", "postgres")
	t.Setenv("AGENTFLOW_RUNNER_POLL_INTERVAL", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("expected env to override file driver, got %q", cfg.Store.Driver)
	}
	if cfg.Runner.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Runner.PollInterval)
	}
}

func TestEnvTopicsSplit(t *testing.T) {
	t.Setenv("AGENTFLOW_RUNNER_TOPICS", "billing,review")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Runner.Topics) != 2 || cfg.Runner.Topics[0] != "billing" {
		t.Errorf("expected split topics, got %v", cfg.Runner.Topics)
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
