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

	"github.com/agentflow/agentflow/internal/store"
)

func (s *Server) registerReadTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_get_workflow",
		Description: "Fetch one workflow run by ID, including its current state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_id": map[string]interface{}{"type": "string", "description": "Workflow run ID"},
			},
			Required: []string{"workflow_id"},
		},
	}, s.handleGetWorkflow)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_list_workflows",
		Description: "List workflow runs, optionally filtered by state (running, completed, failed, cancelled).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"state": map[string]interface{}{"type": "string", "description": "Filter by workflow state"},
			},
		},
	}, s.handleListWorkflows)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_list_steps",
		Description: "List the steps belonging to one workflow run, optionally filtered by state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_id": map[string]interface{}{"type": "string", "description": "Workflow run ID"},
				"state":       map[string]interface{}{"type": "string", "description": "Filter by step state"},
			},
			Required: []string{"workflow_id"},
		},
	}, s.handleListSteps)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_list_tasks",
		Description: "List dispatcher tasks, optionally filtered by topic and state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{"type": "string", "description": "Filter by task topic"},
				"state": map[string]interface{}{"type": "string", "description": "Filter by task state"},
			},
		},
	}, s.handleListTasks)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "agentflow_list_servers",
		Description: "List runner servers currently registered with the engine.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListServers)
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return errorResult("missing or invalid 'workflow_id'"), nil
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return errorResult("get workflow %s: %v", workflowID, err), nil
	}
	return jsonResult(wf)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := store.WorkflowState(request.GetString("state", ""))
	workflows, err := s.store.ListWorkflows(ctx, state)
	if err != nil {
		return errorResult("list workflows: %v", err), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleListSteps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return errorResult("missing or invalid 'workflow_id'"), nil
	}
	filter := store.StepFilter{
		WorkflowID: workflowID,
		State:      store.StepState(request.GetString("state", "")),
	}
	steps, err := s.store.ListSteps(ctx, filter)
	if err != nil {
		return errorResult("list steps for workflow %s: %v", workflowID, err), nil
	}
	return jsonResult(steps)
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TaskFilter{State: store.TaskState(request.GetString("state", ""))}
	if topic := request.GetString("topic", ""); topic != "" {
		filter.Topics = []string{topic}
	}
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return errorResult("list tasks: %v", err), nil
	}
	return jsonResult(tasks)
}

func (s *Server) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return errorResult("list servers: %v", err), nil
	}
	return jsonResult(servers)
}
