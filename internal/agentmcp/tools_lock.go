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

package agentmcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerLockTools exposes internal/lock.Manager to MCP clients so an
// agent can coordinate exclusive access to a resource key across
// workflow runs the way a runner coordinates with other runners.
func (s *Server) registerLockTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_lock_acquire",
		Description: "Acquire a named lock for a holder ID. Succeeds if the lock is free, expired, or already held by the same holder.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"key":               map[string]interface{}{"type": "string", "description": "Lock key"},
				"holder_id":         map[string]interface{}{"type": "string", "description": "Identifier of the caller requesting the lock"},
				"duration_seconds":  map[string]interface{}{"type": "number", "description": "Lease duration in seconds (defaults to the server's configured default)"},
			},
			Required: []string{"key", "holder_id"},
		},
	}, s.handleLockAcquire)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_lock_release",
		Description: "Release a lock previously acquired by holder_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"key":       map[string]interface{}{"type": "string", "description": "Lock key"},
				"holder_id": map[string]interface{}{"type": "string", "description": "Identifier of the current holder"},
			},
			Required: []string{"key", "holder_id"},
		},
	}, s.handleLockRelease)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_lock_check",
		Description: "Report the current holder and expiry of a lock, without acquiring it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"key": map[string]interface{}{"type": "string", "description": "Lock key"},
			},
			Required: []string{"key"},
		},
	}, s.handleLockCheck)
}

func (s *Server) handleLockAcquire(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return errorResult("missing or invalid 'key'"), nil
	}
	holderID, err := request.RequireString("holder_id")
	if err != nil {
		return errorResult("missing or invalid 'holder_id'"), nil
	}

	var duration time.Duration
	if args := request.GetArguments(); args != nil {
		if seconds, ok := args["duration_seconds"].(float64); ok {
			duration = time.Duration(seconds * float64(time.Second))
		}
	}

	lease, ok, err := s.locks.Acquire(ctx, key, holderID, duration)
	if err != nil {
		return errorResult("acquire lock %s: %v", key, err), nil
	}
	if !ok {
		return jsonResult(map[string]any{"acquired": false})
	}
	return jsonResult(map[string]any{"acquired": true, "lease": lease})
}

func (s *Server) handleLockRelease(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return errorResult("missing or invalid 'key'"), nil
	}
	holderID, err := request.RequireString("holder_id")
	if err != nil {
		return errorResult("missing or invalid 'holder_id'"), nil
	}
	if err := s.locks.Release(ctx, key, holderID); err != nil {
		return errorResult("release lock %s: %v", key, err), nil
	}
	return jsonResult(map[string]any{"released": true})
}

func (s *Server) handleLockCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return errorResult("missing or invalid 'key'"), nil
	}
	lease, err := s.locks.Check(ctx, key)
	if err != nil {
		return errorResult("check lock %s: %v", key, err), nil
	}
	if lease == nil {
		return jsonResult(map[string]any{"held": false})
	}
	return jsonResult(map[string]any{"held": true, "lease": lease})
}
