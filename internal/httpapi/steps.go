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
	"net/http"

	"github.com/agentflow/agentflow/internal/store"
)

func (r *Router) registerSteps() {
	r.mux.HandleFunc("GET /v1/workflows/{id}/steps", r.handleListSteps)
	r.mux.HandleFunc("GET /v1/workflows/{id}/steps/{step_id}", r.handleGetStep)
}

func (r *Router) handleListSteps(w http.ResponseWriter, req *http.Request) {
	filter := store.StepFilter{
		WorkflowID: req.PathValue("id"),
		State:      store.StepState(req.URL.Query().Get("state")),
	}
	steps, err := r.store.ListSteps(req.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps, "count": len(steps)})
}

func (r *Router) handleGetStep(w http.ResponseWriter, req *http.Request) {
	step, err := r.store.GetStep(req.Context(), req.PathValue("step_id"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	if step.WorkflowID != req.PathValue("id") {
		writeError(w, http.StatusNotFound, "step not found in this workflow")
		return
	}
	writeJSON(w, http.StatusOK, step)
}
