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

package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/ast"
	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/store"
)

// Drive advances one step: it builds a Snapshot from the store, asks the
// interpreter what to do next, and applies the resulting Action. It
// returns the IDs of any other steps that should themselves be re-driven
// as a consequence — in practice, a step's parent once the step reaches a
// terminal state. Drive is a no-op on steps that are already terminal.
func Drive(ctx context.Context, st store.Store, in *interpreter.Interpreter, idx *ast.Index, step *store.Step) ([]string, error) {
	switch step.State {
	case store.StepCompleted, store.StepFailed, store.StepCancelled, store.StepIgnored:
		return nil, nil
	}

	snap, cursor, err := buildSnapshot(ctx, st, in, idx, step)
	if err != nil {
		return nil, err
	}

	action, err := in.Advance(cursor, snap)
	if err != nil {
		return nil, fmt.Errorf("statemachine: advance step %s: %w", step.ID, err)
	}

	return apply(ctx, st, step, action)
}

func apply(ctx context.Context, st store.Store, step *store.Step, action interpreter.Action) ([]string, error) {
	switch a := action.(type) {
	case interpreter.Wait:
		return nil, ensureRunning(ctx, st, step)

	case interpreter.CreateChildStep:
		if err := ensureRunning(ctx, st, step); err != nil {
			return nil, err
		}
		facetName := a.FacetName
		if facetName == "" {
			facetName = step.FacetName
		}
		scope, err := json.Marshal(a.Scope)
		if err != nil {
			return nil, fmt.Errorf("statemachine: marshal child scope: %w", err)
		}
		now := time.Now().UTC()
		child := &store.Step{
			ID:            uuid.NewString(),
			WorkflowID:    step.WorkflowID,
			ParentStepID:  step.ID,
			FacetName:     facetName,
			StatementPath: a.StatementPath,
			State:         store.StepReady,
			LockStatus:    store.LockStatusUnlocked,
			Scope:         scope,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateStep(ctx, child); err != nil {
			return nil, fmt.Errorf("statemachine: create child step: %w", err)
		}
		return []string{child.ID}, nil

	case interpreter.CreateChildSteps:
		if err := ensureRunning(ctx, st, step); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(a.Children))
		for _, spec := range a.Children {
			scope, err := json.Marshal(spec.Scope)
			if err != nil {
				return nil, fmt.Errorf("statemachine: marshal child scope: %w", err)
			}
			now := time.Now().UTC()
			child := &store.Step{
				ID:            uuid.NewString(),
				WorkflowID:    step.WorkflowID,
				ParentStepID:  step.ID,
				FacetName:     step.FacetName,
				StatementPath: spec.StatementPath,
				State:         store.StepReady,
				LockStatus:    store.LockStatusUnlocked,
				Scope:         scope,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := st.CreateStep(ctx, child); err != nil {
				return nil, fmt.Errorf("statemachine: create child step: %w", err)
			}
			ids = append(ids, child.ID)
		}
		return ids, nil

	case interpreter.EmitEvent:
		if err := ensureRunning(ctx, st, step); err != nil {
			return nil, err
		}
		args, err := json.Marshal(a.Args)
		if err != nil {
			return nil, fmt.Errorf("statemachine: marshal event args: %w", err)
		}
		now := time.Now().UTC()
		ev := &store.Event{
			ID:        uuid.NewString(),
			StepID:    step.ID,
			FacetName: a.FacetName,
			Topic:     a.Topic,
			State:     store.EventPending,
			Args:      args,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("statemachine: create event: %w", err)
		}
		return nil, nil

	case interpreter.MarkComplete:
		return completeStep(ctx, st, step, a.Outputs, nil)

	case interpreter.YieldOutputs:
		return completeStep(ctx, st, step, a.Outputs, nil)

	case interpreter.Fail:
		return failStep(ctx, st, step, a.Err)

	default:
		return nil, fmt.Errorf("statemachine: unhandled action %T", action)
	}
}

// ensureRunning conditionally moves a step from ready to running. It is a
// no-op (not an error) if the step is already running or another driver
// won the same transition first.
func ensureRunning(ctx context.Context, st store.Store, step *store.Step) error {
	if step.State == store.StepRunning {
		return nil
	}
	err := st.UpdateStepState(ctx, step.ID, store.StepReady, store.StepRunning)
	if err != nil && err != store.ErrConflict {
		return fmt.Errorf("statemachine: mark step %s running: %w", step.ID, err)
	}
	step.State = store.StepRunning
	return nil
}

func completeStep(ctx context.Context, st store.Store, step *store.Step, outputs map[string]any, errPayload *engineerr.Error) ([]string, error) {
	outJSON, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("statemachine: marshal step outputs: %w", err)
	}
	if err := st.UpdateStepResult(ctx, step.ID, step.State, store.StepCompleted, outJSON, nil); err != nil {
		if err == store.ErrConflict {
			return nil, nil
		}
		return nil, fmt.Errorf("statemachine: complete step %s: %w", step.ID, err)
	}
	if step.ParentStepID == "" {
		if err := st.UpdateWorkflowState(ctx, step.WorkflowID, store.WorkflowRunning, store.WorkflowCompleted, outJSON, nil); err != nil && err != store.ErrConflict {
			return nil, fmt.Errorf("statemachine: complete workflow %s: %w", step.WorkflowID, err)
		}
		return nil, nil
	}
	return []string{step.ParentStepID}, nil
}

func failStep(ctx context.Context, st store.Store, step *store.Step, engErr *engineerr.Error) ([]string, error) {
	errJSON, err := json.Marshal(engErr)
	if err != nil {
		return nil, fmt.Errorf("statemachine: marshal step error: %w", err)
	}
	if err := st.UpdateStepResult(ctx, step.ID, step.State, store.StepFailed, nil, errJSON); err != nil {
		if err == store.ErrConflict {
			return nil, nil
		}
		return nil, fmt.Errorf("statemachine: fail step %s: %w", step.ID, err)
	}
	appendFailureLog(ctx, st, step.WorkflowID, step.ID, store.LogOriginatorWorkflow, engErr)
	if step.ParentStepID == "" {
		if err := st.UpdateWorkflowState(ctx, step.WorkflowID, store.WorkflowRunning, store.WorkflowFailed, nil, errJSON); err != nil && err != store.ErrConflict {
			return nil, fmt.Errorf("statemachine: fail workflow %s: %w", step.WorkflowID, err)
		}
		return nil, nil
	}
	return []string{step.ParentStepID}, nil
}

// appendFailureLog mirrors a step failure onto the audit log. Logging is
// best-effort: a failure to append never masks the step/workflow state
// transition that already committed.
func appendFailureLog(ctx context.Context, st store.Store, workflowID, stepID string, originator store.LogOriginator, engErr *engineerr.Error) {
	order, err := store.NextLogOrder(ctx, st, workflowID)
	if err != nil {
		return
	}
	_ = st.AppendLog(ctx, &store.Log{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		StepID:     stepID,
		Order:      order,
		Originator: originator,
		Severity:   store.LogError,
		Importance: engErr.Kind.Importance(),
		Message:    engErr.Error(),
		CreatedAt:  time.Now().UTC(),
	})
}
