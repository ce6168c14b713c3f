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

import "net/http"

func (r *Router) registerLocks() {
	r.mux.HandleFunc("GET /v1/locks/{key}", r.handleGetLock)
}

func (r *Router) handleGetLock(w http.ResponseWriter, req *http.Request) {
	lock, err := r.store.GetLock(req.Context(), req.PathValue("key"))
	if err != nil {
		writeError(w, storeErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lock)
}
