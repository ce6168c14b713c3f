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

package interpreter

import "github.com/agentflow/agentflow/internal/ast"

// ChildState is the minimal view Advance needs of a child step to decide
// whether to wait, fail, or fold its result in.
type ChildState struct {
	Exists    bool
	Completed bool
	Failed    bool
	Outputs   map[string]any
	Err       error
}

// Cursor addresses one step: which statement in which facet body it
// corresponds to.
type Cursor struct {
	FacetName     string
	StatementPath string
}

// Snapshot is the read-only view of store state Advance needs: the
// step's own scope, and the state of each of its direct children, keyed
// by the child statement's position (its index within the parent
// statement, e.g. the AndThen child index or the AndMap element index).
// Advance never reads the store directly — the caller builds this from
// store.Step/store.Event/store.Task rows and decoded JSON scope.
type Snapshot struct {
	Program  *ast.Index
	Scope    map[string]any
	Children map[int]ChildState
	// RunningEvent is non-nil once an EmitEvent action has been dispatched
	// for this step, and carries that Event's state: still in flight, or
	// already completed or failed.
	RunningEvent *ChildState
}

func childScopeOf(base map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
