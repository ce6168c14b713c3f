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

// Command agentflowd is the engine daemon: it resolves configuration,
// opens a store backend, and runs a runnerservice.Service alongside a
// HTTP resource surface (reads plus workflow submit and cancel) and a
// Prometheus metrics endpoint until
// signaled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentflow/agentflow/internal/agentlog"
	"github.com/agentflow/agentflow/internal/agentobs"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/dispatcher"
	"github.com/agentflow/agentflow/internal/httpapi"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/runnerservice"
	"github.com/agentflow/agentflow/internal/store"
	"github.com/agentflow/agentflow/internal/store/memory"
	"github.com/agentflow/agentflow/internal/store/postgres"
	"github.com/agentflow/agentflow/internal/store/sqlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENTFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	logger := agentlog.New(agentlog.FromEnv())

	if err := run(*configPath, logger); err != nil {
		logger.Error("agentflowd exited with error", agentlog.Error(err))
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

	tracingOpts, err := agentobs.TracerProviderOptions(agentobs.TracingConfig{Exporter: cfg.Tracing.Exporter})
	if err != nil {
		return fmt.Errorf("build tracing options: %w", err)
	}
	obs, err := agentobs.New("agentflowd", version, tracingOpts...)
	if err != nil {
		return fmt.Errorf("build observability provider: %w", err)
	}
	defer obs.Shutdown(context.Background())

	disp := dispatcher.New(st)
	svc := runnerservice.New(st, disp, interpreter.New(), runnerservice.NewRegistry(), runnerServiceConfig(cfg), logger)
	svc.SetObserver(obs.Metrics(), obs.Tracer("agentflowd"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, logger, func(*config.Config) {
				logger.Info("config file changed; restart agentflowd to apply runner/store changes")
			}); err != nil {
				logger.Warn("config watch stopped", agentlog.Error(err))
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		router := httpapi.New(st, svc, obs.MetricsHandler())
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: router}
		go func() {
			logger.Info("http resource surface listening", slog.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server failed", agentlog.Error(err))
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	logger.Info("agentflowd started", slog.String("server_id", svc.ServerID()), slog.String("version", version), slog.String("commit", commit))

	var svcErr error
	select {
	case <-ctx.Done():
		svcErr = <-runErr
	case svcErr = <-runErr:
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", agentlog.Error(err))
		}
	}

	if svcErr != nil {
		return fmt.Errorf("runner service: %w", svcErr)
	}
	return nil
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
