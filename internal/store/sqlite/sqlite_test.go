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

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/agentflow/agentflow/internal/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFlowRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	f := &store.Flow{ID: "f1", Name: "AddOneFlow", Version: 1, Declaration: []byte(`{"type":"Program"}`), CreatedAt: time.Now()}
	if err := s.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	got, err := s.GetFlowByNameVersion(ctx, "AddOneFlow", 1)
	if err != nil {
		t.Fatalf("GetFlowByNameVersion: %v", err)
	}
	if got.ID != "f1" {
		t.Errorf("expected flow f1, got %q", got.ID)
	}
}

func TestStepConditionalUpdate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	st := &store.Step{ID: "s1", WorkflowID: "w1", State: store.StepPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateStep(ctx, st); err != nil {
		t.Fatalf("CreateStep: %v", err)
	}

	if err := s.UpdateStepState(ctx, "s1", store.StepPending, store.StepReady); err != nil {
		t.Fatalf("UpdateStepState: %v", err)
	}
	if err := s.UpdateStepState(ctx, "s1", store.StepPending, store.StepReady); err != store.ErrConflict {
		t.Errorf("expected ErrConflict on stale transition, got %v", err)
	}
}

func TestRunningEventUniqueIndex(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()
	e1 := &store.Event{ID: "e1", StepID: "step-1", FacetName: "Review", Topic: "billing", State: store.EventRunning, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateEvent(ctx, e1); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	e2 := &store.Event{ID: "e2", StepID: "step-1", FacetName: "Review", Topic: "billing", State: store.EventRunning, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateEvent(ctx, e2); err != store.ErrConflict {
		t.Errorf("expected ErrConflict from partial unique index, got %v", err)
	}
}

func TestClaimTaskSingleWinner(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()
	task := &store.Task{ID: "t1", StepID: "step-1", EventID: "e1", Topic: "billing", State: store.TaskPending, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.ClaimTask(ctx, store.TaskFilter{Topics: []string{"billing"}}, "runner-a")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if got.State != store.TaskRunning || got.ClaimedBy != "runner-a" {
		t.Errorf("unexpected claimed task: %+v", got)
	}

	if _, err := s.ClaimTask(ctx, store.TaskFilter{Topics: []string{"billing"}}, "runner-b"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound once the only pending task is claimed, got %v", err)
	}
}

func TestLockAcquireAndExpire(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()

	ok, err := s.AcquireLock(ctx, "flow:1", "a", now.Add(200*time.Millisecond))
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireLock(ctx, "flow:1", "b", now.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("expected second holder blocked by live lease: ok=%v err=%v", ok, err)
	}
	time.Sleep(250 * time.Millisecond)
	ok, err = s.AcquireLock(ctx, "flow:1", "b", time.Now().Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("expected second holder to win after expiry: ok=%v err=%v", ok, err)
	}
}

func TestRequeueStaleTasks(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()
	task := &store.Task{ID: "t1", StepID: "step-1", EventID: "e1", Topic: "billing", State: store.TaskRunning, ClaimedBy: "dead", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	n, err := s.RequeueStaleTasks(ctx, "dead")
	if err != nil {
		t.Fatalf("RequeueStaleTasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued task, got %d", n)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != store.TaskPending {
		t.Errorf("expected task pending after requeue, got %s", got.State)
	}
}
