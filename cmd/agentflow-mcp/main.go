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

// Command agentflow-mcp serves an AgentFlow engine's store over the
// Model Context Protocol (stdio transport), so an AI coding assistant
// can inspect workflow runs, submit new ones, and coordinate locks
// without going through the HTTP resource surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentflow/agentflow/internal/agentlog"
	"github.com/agentflow/agentflow/internal/agentmcp"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/dispatcher"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/lock"
	"github.com/agentflow/agentflow/internal/runnerservice"
	"github.com/agentflow/agentflow/internal/store"
	"github.com/agentflow/agentflow/internal/store/memory"
	"github.com/agentflow/agentflow/internal/store/postgres"
	"github.com/agentflow/agentflow/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("AGENTFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Structured logs must stay off stdout: stdio is the MCP transport.
	logger := agentlog.New(&agentlog.Config{Output: os.Stderr, Level: "info", Format: agentlog.FormatText})

	if err := run(*configPath, logger); err != nil {
		logger.Error("agentflow-mcp exited with error", agentlog.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	locks := lock.New(st, cfg.Lock.DefaultDuration)

	disp := dispatcher.New(st)
	svc := runnerservice.New(st, disp, interpreter.New(), runnerservice.NewRegistry(), runnerServiceConfig(cfg), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := agentmcp.New(st, svc, locks, agentmcp.Config{Name: "agentflow", Version: version}, logger)
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}

	return srv.Run(ctx)
}

func runnerServiceConfig(cfg *config.Config) runnerservice.Config {
	return runnerservice.Config{
		ServerID:          cfg.Server.ID,
		Topics:            cfg.Runner.Topics,
		MaxConcurrent:     cfg.Runner.MaxConcurrent,
		PollInterval:      cfg.Runner.PollInterval,
		HeartbeatInterval: cfg.Runner.HeartbeatInterval,
		ClaimStaleAfter:   cfg.Runner.ClaimStaleAfter,
		ShutdownGrace:     cfg.Runner.ShutdownGrace,
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "postgres":
		return postgres.Open(postgres.Config{ConnectionString: cfg.DSN})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
