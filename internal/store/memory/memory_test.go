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

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentflow/agentflow/internal/store"
)

func TestUpdateStepStateConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := &store.Step{ID: "s1", WorkflowID: "w1", State: store.StepPending}
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

func TestAppendLogOrderIsPerWorkflowMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		order, err := store.NextLogOrder(ctx, s, "w1")
		if err != nil {
			t.Fatalf("NextLogOrder: %v", err)
		}
		if err := s.AppendLog(ctx, &store.Log{
			ID: "w1-log-" + string(rune('a'+i)), WorkflowID: "w1",
			Order: order, Originator: store.LogOriginatorWorkflow, Severity: store.LogError,
		}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}
	order, err := store.NextLogOrder(ctx, s, "w2")
	if err != nil {
		t.Fatalf("NextLogOrder: %v", err)
	}
	if err := s.AppendLog(ctx, &store.Log{ID: "w2-log-a", WorkflowID: "w2", Order: order, Originator: store.LogOriginatorAgent, Severity: store.LogWarn}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	logs, err := s.ListLogs(ctx, "w1")
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs for w1, got %d", len(logs))
	}
	for i, l := range logs {
		if l.Order != int64(i+1) {
			t.Errorf("log %d: expected order %d, got %d", i, i+1, l.Order)
		}
	}

	w2Logs, err := s.ListLogs(ctx, "w2")
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(w2Logs) != 1 || w2Logs[0].Order != 1 {
		t.Fatalf("expected w2's own order sequence to start at 1, got %+v", w2Logs)
	}
}

func TestClaimTaskConcurrentRace(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := &store.Task{ID: "t1", StepID: "step-1", Topic: "billing", State: store.TaskPending, CreatedAt: time.Now()}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	claimed := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimTask(ctx, store.TaskFilter{Topics: []string{"billing"}}, "runner")
			claimed[i] = err == nil
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range claimed {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner of the claim race, got %d", wins)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != store.TaskRunning || got.ClaimedBy != "runner" {
		t.Errorf("expected task claimed by runner, got %+v", got)
	}
}

func TestRunningEventPartialUniqueEmulation(t *testing.T) {
	s := New()
	ctx := context.Background()
	e1 := &store.Event{ID: "e1", StepID: "step-1", State: store.EventRunning}
	if err := s.CreateEvent(ctx, e1); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	e2 := &store.Event{ID: "e2", StepID: "step-1", State: store.EventRunning}
	if err := s.CreateEvent(ctx, e2); err != store.ErrConflict {
		t.Errorf("expected ErrConflict for second running event on same step, got %v", err)
	}

	e3 := &store.Event{ID: "e3", StepID: "step-1", State: store.EventPending}
	if err := s.CreateEvent(ctx, e3); err != nil {
		t.Errorf("expected pending event to be allowed alongside a running one, got %v", err)
	}
}

func TestLockAcquireExtendExpire(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.AcquireLock(ctx, "flow:123", "holder-a", now.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireLock(ctx, "flow:123", "holder-b", now.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("expected second holder to fail acquiring live lease: ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireLock(ctx, "flow:123", "holder-b", now.Add(-time.Millisecond))
	if err != nil || ok {
		t.Fatalf("unexpected result requesting expired lease for a different holder: ok=%v err=%v", ok, err)
	}

	ok, err = s.ExtendLock(ctx, "flow:123", "holder-a", now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected holder-a to extend its own lease: ok=%v err=%v", ok, err)
	}

	if err := s.ReleaseLock(ctx, "flow:123", "holder-b"); err != store.ErrConflict {
		t.Errorf("expected ErrConflict releasing someone else's lease, got %v", err)
	}
	if err := s.ReleaseLock(ctx, "flow:123", "holder-a"); err != nil {
		t.Errorf("expected holder-a to release its own lease: %v", err)
	}
}

func TestRequeueStaleTasks(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.tasks["t1"] = &store.Task{ID: "t1", State: store.TaskRunning, ClaimedBy: "dead-runner"}
	s.tasks["t2"] = &store.Task{ID: "t2", State: store.TaskRunning, ClaimedBy: "live-runner"}

	n, err := s.RequeueStaleTasks(ctx, "dead-runner")
	if err != nil {
		t.Fatalf("RequeueStaleTasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued task, got %d", n)
	}
	got, _ := s.GetTask(ctx, "t1")
	if got.State != store.TaskPending {
		t.Errorf("expected requeued task pending, got %s", got.State)
	}
	other, _ := s.GetTask(ctx, "t2")
	if other.State != store.TaskRunning {
		t.Errorf("expected unrelated running task untouched, got %s", other.State)
	}
}
