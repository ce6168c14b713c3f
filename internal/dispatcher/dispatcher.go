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

// Package dispatcher turns pending Events into claimable Tasks and
// resolves completed or failed Tasks back onto the Event (and,
// transitively, the Step) that started them. It is the only component
// that ever calls store.TaskStore.ClaimTask.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentflow/agentflow/internal/agentobs"
	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/store"
)

// Dispatcher bridges the Event and Task collections.
type Dispatcher struct {
	store store.Store
	// notify is signalled (non-blocking) whenever PumpEvents creates a new
	// Task, so a same-process poll loop can wake up before its next
	// scheduled tick rather than waiting out the full poll interval —
	// the same wake-signal shape as the teacher's in-memory job queue.
	notify chan struct{}

	metrics *agentobs.Metrics
	tracer  trace.Tracer
}

// New returns a Dispatcher backed by st.
func New(st store.Store) *Dispatcher {
	return &Dispatcher{store: st, notify: make(chan struct{}, 1)}
}

// SetObserver attaches metrics and tracing. Either may be nil; a nil
// Dispatcher field is checked at every call site rather than defaulted to
// a no-op implementation, since most tests construct a Dispatcher with
// neither.
func (d *Dispatcher) SetObserver(m *agentobs.Metrics, tracer trace.Tracer) {
	d.metrics = m
	d.tracer = tracer
}

// Notify returns a channel that receives a value shortly after a new Task
// becomes claimable. It never blocks the sender; callers should treat a
// missed signal as "check again on the next poll tick" rather than an error.
func (d *Dispatcher) Notify() <-chan struct{} {
	return d.notify
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// PumpEvents finds every pending Event and creates a Task for it,
// transitioning the Event to running. It returns how many Tasks it created.
// Safe to call concurrently from multiple processes: enqueue moves the
// Event from pending to running with a conditional update before it
// creates the Task, so only the caller that wins that transition creates
// a Task and the others skip the Event.
func (d *Dispatcher) PumpEvents(ctx context.Context) (int, error) {
	events, err := d.store.ListEvents(ctx, store.EventFilter{State: store.EventPending})
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list pending events: %w", err)
	}
	created := 0
	for _, ev := range events {
		if err := d.enqueue(ctx, ev); err != nil {
			if err == store.ErrConflict {
				continue
			}
			return created, err
		}
		created++
	}
	if created > 0 {
		d.wake()
	}
	return created, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, ev *store.Event) error {
	payload, err := json.Marshal(map[string]any{
		"eventId":   ev.ID,
		"facetName": ev.FacetName,
		"args":      json.RawMessage(ev.Args),
	})
	if err != nil {
		return fmt.Errorf("dispatcher: marshal task payload: %w", err)
	}
	now := time.Now().UTC()
	task := &store.Task{
		ID:        uuid.NewString(),
		StepID:    ev.StepID,
		EventID:   ev.ID,
		Topic:     ev.Topic,
		State:     store.TaskPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.UpdateEventState(ctx, ev.ID, store.EventPending, store.EventRunning, nil, nil); err != nil {
		if err == store.ErrConflict {
			return err
		}
		return fmt.Errorf("dispatcher: mark event running: %w", err)
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("dispatcher: create task: %w", err)
	}
	if d.metrics != nil {
		d.metrics.TaskEnqueued(ctx, ev.Topic)
	}
	return nil
}

// Claim hands the oldest pending Task matching topics to claimedBy.
// Returns store.ErrNotFound if nothing is claimable right now.
func (d *Dispatcher) Claim(ctx context.Context, topics []string, claimedBy string) (*store.Task, error) {
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatcher.claim")
		defer span.End()
	}
	return d.store.ClaimTask(ctx, store.TaskFilter{Topics: topics, State: store.TaskPending}, claimedBy)
}

// Complete marks task and its originating Event completed with result, and
// returns the ID of the Step that should be re-driven now that its event
// has resolved.
func (d *Dispatcher) Complete(ctx context.Context, task *store.Task, result json.RawMessage) (string, error) {
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatcher.complete")
		defer span.End()
	}
	if err := d.store.CompleteTask(ctx, task.ID, result); err != nil {
		return "", fmt.Errorf("dispatcher: complete task %s: %w", task.ID, err)
	}
	if err := d.store.UpdateEventState(ctx, task.EventID, store.EventRunning, store.EventCompleted, result, nil); err != nil && err != store.ErrConflict {
		return "", fmt.Errorf("dispatcher: complete event %s: %w", task.EventID, err)
	}
	if d.metrics != nil {
		d.metrics.TaskCompleted(ctx, task.Topic, taskInFlight(task))
	}
	return task.StepID, nil
}

// Fail marks task and its originating Event failed with errPayload, and
// returns the ID of the Step that should be re-driven.
func (d *Dispatcher) Fail(ctx context.Context, task *store.Task, errPayload json.RawMessage) (string, error) {
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatcher.fail")
		defer span.End()
	}
	if err := d.store.FailTask(ctx, task.ID, errPayload); err != nil {
		return "", fmt.Errorf("dispatcher: fail task %s: %w", task.ID, err)
	}
	if err := d.store.UpdateEventState(ctx, task.EventID, store.EventRunning, store.EventFailed, nil, errPayload); err != nil && err != store.ErrConflict {
		return "", fmt.Errorf("dispatcher: fail event %s: %w", task.EventID, err)
	}
	d.appendFailureLog(ctx, task, errPayload)
	if d.metrics != nil {
		d.metrics.TaskFailed(ctx, task.Topic, taskInFlight(task))
	}
	return task.StepID, nil
}

// appendFailureLog mirrors a task failure onto the audit log for task's
// workflow. errPayload is whatever the caller marshaled; it is usually a
// *engineerr.Error but is decoded defensively since Fail's contract only
// promises valid JSON. Logging is best-effort and never blocks or fails
// the task/event transition that already committed.
func (d *Dispatcher) appendFailureLog(ctx context.Context, task *store.Task, errPayload json.RawMessage) {
	var parsed struct {
		Kind    engineerr.Kind `json:"kind"`
		Message string         `json:"message"`
	}
	if err := json.Unmarshal(errPayload, &parsed); err != nil || parsed.Kind == "" {
		parsed.Kind = engineerr.KindAgent
	}
	if parsed.Message == "" {
		parsed.Message = string(errPayload)
	}

	step, err := d.store.GetStep(ctx, task.StepID)
	if err != nil {
		return
	}
	order, err := store.NextLogOrder(ctx, d.store, step.WorkflowID)
	if err != nil {
		return
	}
	_ = d.store.AppendLog(ctx, &store.Log{
		ID:         uuid.NewString(),
		WorkflowID: step.WorkflowID,
		StepID:     task.StepID,
		Order:      order,
		Originator: store.LogOriginatorAgent,
		Severity:   store.LogError,
		Importance: parsed.Kind.Importance(),
		Message:    parsed.Message,
		CreatedAt:  time.Now().UTC(),
	})
}

// taskInFlight returns how long task has been claimed, or zero if it was
// never claimed (shouldn't happen for a task reaching Complete/Fail, but
// avoids a nil-pointer panic if a caller hands in a malformed task).
func taskInFlight(task *store.Task) time.Duration {
	if task.ClaimedAt == nil {
		return 0
	}
	return time.Since(*task.ClaimedAt)
}

// RequeueStale transitions every task still claimed by a now-dead server
// back to pending, so a live runner can pick it up. Returns the total
// number of tasks requeued across all dead servers.
func (d *Dispatcher) RequeueStale(ctx context.Context, deadServerIDs []string) (int, error) {
	total := 0
	for _, id := range deadServerIDs {
		n, err := d.store.RequeueStaleTasks(ctx, id)
		if err != nil {
			return total, fmt.Errorf("dispatcher: requeue tasks for dead server %s: %w", id, err)
		}
		total += n
	}
	if total > 0 {
		d.wake()
	}
	if d.metrics != nil {
		d.metrics.TasksRequeued(ctx, total)
	}
	return total, nil
}
