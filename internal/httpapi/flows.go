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
	"errors"
	"net/http"
	"strconv"

	"github.com/agentflow/agentflow/internal/store"
)

func (r *Router) registerFlows() {
	r.mux.HandleFunc("GET /v1/flows/{id}", r.handleGetFlow)
	r.mux.HandleFunc("GET /v1/flows/by-name/{name}/{version}", r.handleGetFlowByNameVersion)
}

func (r *Router) handleGetFlow(w http.ResponseWriter, req *http.Request) {
	f, err := r.store.GetFlow(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (r *Router) handleGetFlowByNameVersion(w http.ResponseWriter, req *http.Request) {
	version, err := strconv.Atoi(req.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be an integer")
		return
	}
	f, err := r.store.GetFlowByNameVersion(req.Context(), req.PathValue("name"), version)
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// storeErrStatus maps a store error to the HTTP status a read client
// should see. Anything other than ErrNotFound is a server-side failure.
func storeErrStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
