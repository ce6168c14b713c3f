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

// Package agentmcp exposes an AgentFlow engine's store and lock manager
// to MCP clients (AI coding assistants, agent harnesses) as a set of
// read and lock-management tools, served over stdio.
package agentmcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentflow/agentflow/internal/lock"
	"github.com/agentflow/agentflow/internal/runnerservice"
	"github.com/agentflow/agentflow/internal/store"
)

// Server wraps an mcp-go server bound to one engine's store, optional
// runner service, and lock manager.
type Server struct {
	mcpServer *server.MCPServer
	store     store.Store
	runner    *runnerservice.Service
	locks     *lock.Manager
	version   string
	logger    *slog.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the MCP server name advertised to clients.
	Name string
	// Version is the AgentFlow build version.
	Version string
}

// New builds a Server over st. runner may be nil, in which case the
// workflow-submission tool responds with an error result rather than
// being omitted (MCP has no notion of a tool becoming unavailable after
// the client has already listed it). locks may be nil, in which case the
// lock tools are not registered at all.
func New(st store.Store, runner *runnerservice.Service, locks *lock.Manager, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "agentflow"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		store:     st,
		runner:    runner,
		locks:     locks,
		version:   cfg.Version,
		logger:    logger,
	}

	s.registerReadTools()
	s.registerSubmitTool()
	s.registerCancelTool()
	if locks != nil {
		s.registerLockTools()
	}

	return s, nil
}

// Run serves the MCP protocol over stdio until ctx is canceled or the
// transport closes.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting agentflow MCP server", slog.String("version", s.version))
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := marshalIndent(v)
	if err != nil {
		return errorResult("encode result: %v", err), nil
	}
	return textResult(text), nil
}
