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

func (r *Router) registerTasks() {
	r.mux.HandleFunc("GET /v1/tasks", r.handleListTasks)
	r.mux.HandleFunc("GET /v1/tasks/{id}", r.handleGetTask)
}

func (r *Router) handleListTasks(w http.ResponseWriter, req *http.Request) {
	filter := store.TaskFilter{State: store.TaskState(req.URL.Query().Get("state"))}
	if topic := req.URL.Query().Get("topic"); topic != "" {
		filter.Topics = []string{topic}
	}
	tasks, err := r.store.ListTasks(req.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (r *Router) handleGetTask(w http.ResponseWriter, req *http.Request) {
	task, err := r.store.GetTask(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}
