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

import "github.com/agentflow/agentflow/internal/engineerr"

// Action is one of the seven effects Advance can request. The caller
// (internal/statemachine) is responsible for applying it to the store;
// Advance itself never writes.
type Action interface {
	isAction()
}

// CreateChildStep requests a new step be created under the current one at
// StatementPath, seeded with Scope. FacetName is set only when the child
// steps into a different facet's body — a non-event FacetCall — and is
// empty when the child is just the next node of the same facet's tree
// (an AndThen/AndMatch branch).
type CreateChildStep struct {
	FacetName     string
	StatementPath string
	Scope         map[string]any
}

// ChildSpec is one element of a CreateChildSteps batch.
type ChildSpec struct {
	StatementPath string
	Scope         map[string]any
}

// CreateChildSteps requests every currently-missing sibling of an AndMap
// fan-out be created in a single pass, so all of them run concurrently
// (subject to runner capacity) instead of one being created only after
// its predecessor reaches a terminal state.
type CreateChildSteps struct {
	Children []ChildSpec
}

// EmitEvent requests the dispatcher create an Event/Task pair for an
// event-facet call and leave the current step running until it resolves.
type EmitEvent struct {
	FacetName string
	Topic     string
	Args      map[string]any
}

// MarkComplete requests the current step transition to completed with the
// given outputs. A FacetCall's Binding is already applied to Outputs by
// Advance; the action itself carries no binding.
type MarkComplete struct {
	Outputs map[string]any
}

// YieldOutputs requests the owning workflow be marked completed with the
// given outputs. Advance never returns it: a root step completes through
// MarkComplete, and the state machine then completes the workflow.
type YieldOutputs struct {
	Outputs map[string]any
}

// Fail requests the current step (and, if unrecoverable, its workflow)
// transition to failed with err.
type Fail struct {
	Err *engineerr.Error
}

// Wait requests no state change; the step is not yet ready to advance
// (e.g. waiting on a child step or an in-flight event).
type Wait struct{}

func (CreateChildStep) isAction()  {}
func (CreateChildSteps) isAction() {}
func (EmitEvent) isAction()        {}
func (MarkComplete) isAction()     {}
func (YieldOutputs) isAction()     {}
func (Fail) isAction()             {}
func (Wait) isAction()             {}
