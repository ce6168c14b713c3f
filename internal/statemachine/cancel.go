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

	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/store"
)

// Cancel flips workflowID to cancelled and writes state=cancelled on every
// one of its non-terminal descendant steps. It is a no-op if the workflow
// is already in a terminal state. A step that reaches a terminal state
// concurrently (an in-flight agent result landing mid-cancel) is left
// alone: UpdateStepResult's conditional transition simply conflicts and
// that step keeps its own outcome, per the cancellation contract — an
// in-flight result is applied to the task but never overwrites a step.
func Cancel(ctx context.Context, st store.Store, workflowID string) error {
	wf, err := st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("statemachine: get workflow %s: %w", workflowID, err)
	}
	if wf.State != store.WorkflowRunning {
		return nil
	}

	errJSON, err := json.Marshal(engineerr.New(engineerr.KindCancelled, "workflow cancelled"))
	if err != nil {
		return fmt.Errorf("statemachine: marshal cancel error: %w", err)
	}

	if err := st.UpdateWorkflowState(ctx, workflowID, store.WorkflowRunning, store.WorkflowCancelled, nil, errJSON); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return fmt.Errorf("statemachine: cancel workflow %s: %w", workflowID, err)
	}

	steps, err := st.ListSteps(ctx, store.StepFilter{WorkflowID: workflowID})
	if err != nil {
		return fmt.Errorf("statemachine: list steps for workflow %s: %w", workflowID, err)
	}
	for _, step := range steps {
		switch step.State {
		case store.StepCompleted, store.StepFailed, store.StepCancelled, store.StepIgnored:
			continue
		}
		if err := st.UpdateStepResult(ctx, step.ID, step.State, store.StepCancelled, nil, errJSON); err != nil && err != store.ErrConflict {
			return fmt.Errorf("statemachine: cancel step %s: %w", step.ID, err)
		}
	}
	return nil
}
