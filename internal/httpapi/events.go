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

func (r *Router) registerEvents() {
	r.mux.HandleFunc("GET /v1/events", r.handleListEvents)
	r.mux.HandleFunc("GET /v1/events/{id}", r.handleGetEvent)
}

func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) {
	filter := store.EventFilter{State: store.EventState(req.URL.Query().Get("state"))}
	events, err := r.store.ListEvents(req.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (r *Router) handleGetEvent(w http.ResponseWriter, req *http.Request) {
	ev, err := r.store.GetEvent(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
