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

// Package httpapi exposes the eight persisted collections to read clients
// (dashboards, tool bridges) over plain JSON. It prescribes one transport
// among several the engine could support; the shapes it returns are the
// store package's own types, marshalled directly.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentflow/agentflow/internal/runnerservice"
	"github.com/agentflow/agentflow/internal/store"
)

// Router wires the resource handlers onto a shared mux.
type Router struct {
	mux     *http.ServeMux
	store   store.Store
	runner  *runnerservice.Service
	metrics http.Handler
}

// New builds a Router over st. runner may be nil, in which case the
// workflow-submission endpoint responds 501. metrics may be nil, in which
// case /metrics is not registered.
func New(st store.Store, runner *runnerservice.Service, metrics http.Handler) *Router {
	r := &Router{mux: http.NewServeMux(), store: st, runner: runner, metrics: metrics}
	r.registerHealth()
	r.registerFlows()
	r.registerWorkflows()
	r.registerSteps()
	r.registerEvents()
	r.registerTasks()
	r.registerLogs()
	r.registerServers()
	r.registerLocks()
	if metrics != nil {
		r.mux.Handle("GET /metrics", metrics)
	}
	return r
}

// ServeHTTP lets Router be used directly as an http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
