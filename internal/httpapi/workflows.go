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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentflow/agentflow/internal/store"
)

func (r *Router) registerWorkflows() {
	r.mux.HandleFunc("GET /v1/workflows", r.handleListWorkflows)
	r.mux.HandleFunc("GET /v1/workflows/{id}", r.handleGetWorkflow)
	r.mux.HandleFunc("POST /v1/workflows", r.handleSubmitWorkflow)
	r.mux.HandleFunc("POST /v1/workflows/{id}/cancel", r.handleCancelWorkflow)
}

func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	state := store.WorkflowState(req.URL.Query().Get("state"))
	workflows, err := r.store.ListWorkflows(req.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows, "count": len(workflows)})
}

func (r *Router) handleGetWorkflow(w http.ResponseWriter, req *http.Request) {
	wf, err := r.store.GetWorkflow(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

type submitWorkflowRequest struct {
	FlowID       string         `json:"flowId"`
	WorkflowName string         `json:"workflowName"`
	Inputs       map[string]any `json:"inputs"`
}

func (r *Router) handleSubmitWorkflow(w http.ResponseWriter, req *http.Request) {
	if r.runner == nil {
		writeError(w, http.StatusNotImplemented, "workflow submission not enabled on this server")
		return
	}
	var body submitWorkflowRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.FlowID == "" || body.WorkflowName == "" {
		writeError(w, http.StatusBadRequest, "flowId and workflowName are required")
		return
	}
	wf, err := r.runner.Submit(req.Context(), body.FlowID, body.WorkflowName, body.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, wf)
}

func (r *Router) handleCancelWorkflow(w http.ResponseWriter, req *http.Request) {
	if r.runner == nil {
		writeError(w, http.StatusNotImplemented, "workflow cancellation not enabled on this server")
		return
	}
	id := req.PathValue("id")
	if err := r.runner.Cancel(req.Context(), id); err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	wf, err := r.store.GetWorkflow(req.Context(), id)
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}
