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

package runnerservice

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agentflow/agentflow/internal/ast"
	"github.com/agentflow/agentflow/internal/dispatcher"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/store"
	"github.com/agentflow/agentflow/internal/store/memory"
)

func testConfig() Config {
	return Config{
		ServerID:          "runner-test",
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		ClaimStaleAfter:   time.Minute,
		ShutdownGrace:     time.Second,
	}
}

func createFlow(t *testing.T, st store.Store, id string, facets []ast.FacetDecl, workflows []ast.WorkflowDecl) {
	t.Helper()
	container := map[string]any{"facets": facets, "workflows": workflows}
	raw, err := json.Marshal(container)
	if err != nil {
		t.Fatalf("marshal flow declaration: %v", err)
	}
	now := time.Now().UTC()
	if err := st.CreateFlow(context.Background(), &store.Flow{
		ID: id, Name: id, Version: 1, Declaration: raw, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create flow: %v", err)
	}
}

func waitForWorkflowState(t *testing.T, st store.Store, workflowID string, want store.WorkflowState, timeout time.Duration) *store.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		wf, err := st.GetWorkflow(context.Background(), workflowID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		if wf.State == want {
			return wf
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s did not reach state %s within %s, last state %s", workflowID, want, timeout, wf.State)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func runAndStop(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSubmitDrivesVariableAssignmentWorkflowToCompletion(t *testing.T) {
	st := memory.New()
	createFlow(t, st, "flow1",
		[]ast.FacetDecl{{
			Name: "AddOne",
			Body: &ast.Statement{
				ID:                 "root",
				Kind:               ast.StmtVariableAssignment,
				VariableAssignment: &ast.VariableAssignment{Name: "result", Expr: "inputs.n + 1"},
			},
		}},
		[]ast.WorkflowDecl{{Name: "Main", FacetName: "AddOne", Version: 1}},
	)

	svc := New(st, dispatcher.New(st), interpreter.New(), nil, testConfig(), nil)
	runAndStop(t, svc)

	wf, err := svc.Submit(context.Background(), "flow1", "Main", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForWorkflowState(t, st, wf.ID, store.WorkflowCompleted, time.Second)
	var outputs map[string]any
	if err := json.Unmarshal(got.Outputs, &outputs); err != nil {
		t.Fatalf("unmarshal outputs: %v", err)
	}
	if outputs["result"] != float64(2) {
		t.Errorf("expected result=2, got %v", outputs["result"])
	}
}

func TestSubmitUnknownWorkflowFails(t *testing.T) {
	st := memory.New()
	createFlow(t, st, "flow1", nil, nil)

	svc := New(st, dispatcher.New(st), interpreter.New(), nil, testConfig(), nil)
	if _, err := svc.Submit(context.Background(), "flow1", "Missing", nil); err == nil {
		t.Fatal("expected an error for an unknown workflow")
	}
}

// doublingHandler answers an event-facet task by doubling its "n" argument.
type doublingHandler struct{}

func (doublingHandler) Handle(ctx context.Context, task *store.Task) (json.RawMessage, error) {
	var payload struct {
		Args map[string]any `json:"args"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal task payload: %w", err)
	}
	n, _ := payload.Args["n"].(float64)
	return json.Marshal(map[string]any{"doubled": n * 2})
}

func TestEventFacetClaimedAndExecutedByRegisteredHandler(t *testing.T) {
	st := memory.New()
	createFlow(t, st, "flow1",
		[]ast.FacetDecl{
			{
				Name: "Caller",
				Body: &ast.Statement{
					ID:   "root",
					Kind: ast.StmtFacet,
					FacetCall: &ast.FacetCall{
						FacetName: "Double",
						IsEvent:   true,
						Binding:   "out",
						Args:      []ast.Arg{{Name: "n", Expr: "inputs.n"}},
					},
				},
			},
			{Name: "Double", Topic: "math.double"},
		},
		[]ast.WorkflowDecl{{Name: "Main", FacetName: "Caller", Version: 1}},
	)

	handlers := NewRegistry()
	handlers.Register("math.double", doublingHandler{})

	svc := New(st, dispatcher.New(st), interpreter.New(), handlers, testConfig(), nil)
	runAndStop(t, svc)

	wf, err := svc.Submit(context.Background(), "flow1", "Main", map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForWorkflowState(t, st, wf.ID, store.WorkflowCompleted, time.Second)
	var outputs map[string]any
	if err := json.Unmarshal(got.Outputs, &outputs); err != nil {
		t.Fatalf("unmarshal outputs: %v", err)
	}
	out, ok := outputs["out"].(map[string]any)
	if !ok {
		t.Fatalf("expected out to be a map, got %T (%v)", outputs["out"], outputs["out"])
	}
	if out["doubled"] != float64(6) {
		t.Errorf("expected doubled=6, got %v", out["doubled"])
	}
}

func TestCancelMarksWorkflowAndNonTerminalStepsCancelled(t *testing.T) {
	st := memory.New()
	createFlow(t, st, "flow1",
		[]ast.FacetDecl{
			{
				Name: "Caller",
				Body: &ast.Statement{
					ID:   "root",
					Kind: ast.StmtFacet,
					FacetCall: &ast.FacetCall{
						FacetName: "Double",
						IsEvent:   true,
						Binding:   "out",
						Args:      []ast.Arg{{Name: "n", Expr: "inputs.n"}},
					},
				},
			},
			{Name: "Double", Topic: "math.double"},
		},
		[]ast.WorkflowDecl{{Name: "Main", FacetName: "Caller", Version: 1}},
	)

	// No handler is registered for math.double, so the root step parks in
	// running with its event pending/claimed forever until cancelled.
	svc := New(st, dispatcher.New(st), interpreter.New(), NewRegistry(), testConfig(), nil)
	runAndStop(t, svc)

	wf, err := svc.Submit(context.Background(), "flow1", "Main", map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForWorkflowState(t, st, wf.ID, store.WorkflowRunning, time.Second)

	if err := svc.Cancel(context.Background(), wf.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := st.GetWorkflow(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != store.WorkflowCancelled {
		t.Fatalf("expected workflow cancelled, got %s", got.State)
	}

	root, err := st.GetStep(context.Background(), wf.RootStepID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if root.State != store.StepCancelled {
		t.Errorf("expected root step cancelled, got %s", root.State)
	}

	if err := svc.Cancel(context.Background(), wf.ID); err != nil {
		t.Fatalf("Cancel on already-cancelled workflow should be a no-op, got: %v", err)
	}
}

func TestClaimableTopicsNarrowedByConfig(t *testing.T) {
	handlers := NewRegistry()
	handlers.Register("a", doublingHandler{})
	handlers.Register("b", doublingHandler{})

	svc := &Service{handlers: handlers, cfg: Config{Topics: []string{"a"}}}
	got := svc.claimableTopics()
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected only topic a, got %v", got)
	}

	svc.cfg.Topics = nil
	got = svc.claimableTopics()
	if len(got) != 2 {
		t.Errorf("expected both topics with no restriction, got %v", got)
	}
}

func TestReconcileRequeuesStaleTasksAndResolvedEvents(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Now().UTC()

	if err := st.UpsertServer(ctx, &store.Server{ID: "dead-1", Topics: []string{"math.double"}, PingTime: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("upsert dead server: %v", err)
	}

	disp := dispatcher.New(st)
	if err := st.CreateEvent(ctx, &store.Event{
		ID: "ev1", StepID: "step1", FacetName: "Double", Topic: "math.double",
		State: store.EventPending, Args: json.RawMessage(`{}`), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := disp.PumpEvents(ctx); err != nil {
		t.Fatalf("PumpEvents: %v", err)
	}
	if _, err := disp.Claim(ctx, []string{"math.double"}, "dead-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := st.CreateStep(ctx, &store.Step{
		ID: "step2", WorkflowID: "wf1", FacetName: "X", StatementPath: "root",
		State: store.StepRunning, LockStatus: store.LockStatusUnlocked,
		Scope: json.RawMessage(`{}`), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create running step: %v", err)
	}
	if err := st.CreateEvent(ctx, &store.Event{
		ID: "ev2", StepID: "step2", FacetName: "Y", Topic: "t",
		State: store.EventCompleted, Args: json.RawMessage(`{}`), Result: json.RawMessage(`{}`),
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create completed event: %v", err)
	}

	svc := New(st, disp, interpreter.New(), nil, testConfig(), nil)
	if err := svc.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{Topics: []string{"math.double"}, State: store.TaskPending})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected the dead server's task requeued to pending, got %d", len(tasks))
	}

	select {
	case got := <-svc.queue:
		if got != "step2" {
			t.Errorf("expected step2 enqueued for re-drive, got %s", got)
		}
	default:
		t.Error("expected step2 to be enqueued by reconcile")
	}
}
