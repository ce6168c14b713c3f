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

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerSubmitTool() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_submit_workflow",
		Description: "Submit a new workflow run against a previously-registered flow.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"flow_id":       map[string]interface{}{"type": "string", "description": "Flow ID to submit against"},
				"workflow_name": map[string]interface{}{"type": "string", "description": "Workflow name within the flow"},
				"inputs":        map[string]interface{}{"type": "object", "description": "Workflow input values"},
			},
			Required: []string{"flow_id", "workflow_name"},
		},
	}, s.handleSubmitWorkflow)
}

func (s *Server) handleSubmitWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return errorResult("workflow submission is not enabled on this server"), nil
	}
	flowID, err := request.RequireString("flow_id")
	if err != nil {
		return errorResult("missing or invalid 'flow_id'"), nil
	}
	workflowName, err := request.RequireString("workflow_name")
	if err != nil {
		return errorResult("missing or invalid 'workflow_name'"), nil
	}

	var inputs map[string]any
	if args := request.GetArguments(); args != nil {
		if raw, ok := args["inputs"].(map[string]interface{}); ok {
			inputs = raw
		}
	}

	wf, err := s.runner.Submit(ctx, flowID, workflowName, inputs)
	if err != nil {
		return errorResult("submit workflow: %v", err), nil
	}
	return jsonResult(wf)
}

func (s *Server) registerCancelTool() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_cancel_workflow",
		Description: "Cancel a running workflow and every one of its non-terminal steps.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_id": map[string]interface{}{"type": "string", "description": "Workflow ID to cancel"},
			},
			Required: []string{"workflow_id"},
		},
	}, s.handleCancelWorkflow)
}

func (s *Server) handleCancelWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return errorResult("workflow cancellation is not enabled on this server"), nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return errorResult("missing or invalid 'workflow_id'"), nil
	}

	if err := s.runner.Cancel(ctx, workflowID); err != nil {
		return errorResult("cancel workflow: %v", err), nil
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return errorResult("get workflow: %v", err), nil
	}
	return jsonResult(wf)
}
