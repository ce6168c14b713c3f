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

// Package statemachine is the bridge between the pure internal/interpreter
// and the store: it builds an interpreter.Snapshot from Step/Event rows,
// calls Advance, and applies whatever Action comes back. It owns every
// step's lifecycle transition (pending -> ready -> running -> completed/
// failed/cancelled/ignored) and the conditional-update discipline that
// makes those transitions safe under concurrent drivers.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentflow/agentflow/internal/ast"
	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/store"
)

// buildSnapshot loads step's scope and the resolved state of every child
// address the interpreter expects for step's statement, plus the event
// the step emitted (in whatever state), into an interpreter.Snapshot ready
// for Advance.
func buildSnapshot(ctx context.Context, st store.Store, in *interpreter.Interpreter, idx *ast.Index, step *store.Step) (*interpreter.Snapshot, interpreter.Cursor, error) {
	cursor := interpreter.Cursor{FacetName: step.FacetName, StatementPath: step.StatementPath}

	scope := map[string]any{}
	if len(step.Scope) > 0 {
		if err := json.Unmarshal(step.Scope, &scope); err != nil {
			return nil, cursor, fmt.Errorf("statemachine: decode step %s scope: %w", step.ID, err)
		}
	}

	snap := &interpreter.Snapshot{Program: idx, Scope: scope, Children: map[int]interpreter.ChildState{}}

	isEvent, err := in.IsEventStatement(cursor, snap)
	if err != nil {
		return nil, cursor, err
	}
	if isEvent {
		ev, err := st.GetEventForStep(ctx, step.ID)
		if err != nil && err != store.ErrNotFound {
			return nil, cursor, fmt.Errorf("statemachine: get event for step %s: %w", step.ID, err)
		}
		if ev != nil {
			cs := eventChildState(ev)
			snap.RunningEvent = &cs
		}
		return snap, cursor, nil
	}

	addrs, err := in.ChildAddrs(cursor, snap)
	if err != nil {
		return nil, cursor, err
	}
	if len(addrs) == 0 {
		return snap, cursor, nil
	}

	children, err := st.ListSteps(ctx, store.StepFilter{WorkflowID: step.WorkflowID})
	if err != nil {
		return nil, cursor, fmt.Errorf("statemachine: list steps for workflow %s: %w", step.WorkflowID, err)
	}
	byAddr := make(map[string]*store.Step, len(children))
	for _, c := range children {
		if c.ParentStepID != step.ID {
			continue
		}
		byAddr[c.FacetName+"\x00"+c.StatementPath] = c
	}

	for _, addr := range addrs {
		child, ok := byAddr[addr.FacetName+"\x00"+addr.StatementPath]
		if !ok {
			continue
		}
		snap.Children[addr.Index] = stepChildState(child)
	}

	return snap, cursor, nil
}

func stepChildState(s *store.Step) interpreter.ChildState {
	cs := interpreter.ChildState{Exists: true}
	switch s.State {
	case store.StepCompleted:
		cs.Completed = true
		if len(s.Outputs) > 0 {
			var out map[string]any
			if json.Unmarshal(s.Outputs, &out) == nil {
				cs.Outputs = out
			}
		}
	case store.StepFailed, store.StepCancelled:
		cs.Failed = true
		cs.Err = decodeErr(s.Error)
	}
	return cs
}

func eventChildState(e *store.Event) interpreter.ChildState {
	cs := interpreter.ChildState{Exists: true}
	switch e.State {
	case store.EventCompleted:
		cs.Completed = true
		if len(e.Result) > 0 {
			var out map[string]any
			if json.Unmarshal(e.Result, &out) == nil {
				cs.Outputs = out
			}
		}
	case store.EventFailed:
		cs.Failed = true
		cs.Err = decodeErr(e.Error)
	}
	return cs
}

func decodeErr(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var e engineerr.Error
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("statemachine: decode error payload: %w", err)
	}
	return &e
}
