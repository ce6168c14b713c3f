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

// Package memory implements store.Store entirely in process memory,
// guarded by a single mutex. It is the default backend for tests and for
// single-process development, and it emulates the partial-unique-index
// and conditional-update guarantees the sqlite and postgres backends get
// from the database itself.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/agentflow/internal/store"
)

// Store is an in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	flows     map[string]*store.Flow
	workflows map[string]*store.Workflow
	steps     map[string]*store.Step
	events    map[string]*store.Event
	tasks     map[string]*store.Task
	logs      []*store.Log
	servers   map[string]*store.Server
	locks     map[string]*store.Lock
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		flows:     map[string]*store.Flow{},
		workflows: map[string]*store.Workflow{},
		steps:     map[string]*store.Step{},
		events:    map[string]*store.Event{},
		tasks:     map[string]*store.Task{},
		servers:   map[string]*store.Server{},
		locks:     map[string]*store.Lock{},
	}
}

var _ store.Store = (*Store)(nil)

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// --- flows ---

func (s *Store) CreateFlow(ctx context.Context, f *store.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = clone(f)
	return nil
}

func (s *Store) GetFlow(ctx context.Context, id string) (*store.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(f), nil
}

func (s *Store) GetFlowByNameVersion(ctx context.Context, name string, version int) (*store.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.Name == name && f.Version == version {
			return clone(f), nil
		}
	}
	return nil, store.ErrNotFound
}

// --- workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, w *store.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = clone(w)
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(w), nil
}

func (s *Store) ListWorkflows(ctx context.Context, state store.WorkflowState) ([]*store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Workflow
	for _, w := range s.workflows {
		if state == "" || w.State == state {
			out = append(out, clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateWorkflowState(ctx context.Context, id string, from, to store.WorkflowState, outputs, errPayload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.State != from {
		return store.ErrConflict
	}
	w.State = to
	if outputs != nil {
		w.Outputs = outputs
	}
	if errPayload != nil {
		w.Error = errPayload
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// --- steps ---

func (s *Store) CreateStep(ctx context.Context, st *store.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.LockStatus == "" {
		st.LockStatus = store.LockStatusUnlocked
	}
	s.steps[st.ID] = clone(st)
	return nil
}

func (s *Store) GetStep(ctx context.Context, id string) (*store.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(st), nil
}

func (s *Store) ListSteps(ctx context.Context, filter store.StepFilter) ([]*store.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Step
	for _, st := range s.steps {
		if filter.WorkflowID != "" && st.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.State != "" && st.State != filter.State {
			continue
		}
		out = append(out, clone(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateStepState(ctx context.Context, id string, from, to store.StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.State != from {
		return store.ErrConflict
	}
	st.State = to
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateStepResult(ctx context.Context, id string, from, to store.StepState, outputs, errPayload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.State != from {
		return store.ErrConflict
	}
	st.State = to
	if outputs != nil {
		st.Outputs = outputs
	}
	if errPayload != nil {
		st.Error = errPayload
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateStepScope(ctx context.Context, id string, scope json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	st.Scope = scope
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AcquireStepLock(ctx context.Context, id, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.LockStatus == store.LockStatusLocked {
		return store.ErrConflict
	}
	st.LockStatus = store.LockStatusLocked
	st.LockedBy = holder
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReleaseStepLock(ctx context.Context, id, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.LockStatus == store.LockStatusLocked && st.LockedBy != holder {
		return store.ErrConflict
	}
	st.LockStatus = store.LockStatusUnlocked
	st.LockedBy = ""
	st.UpdatedAt = time.Now().UTC()
	return nil
}

// --- events ---

func (s *Store) CreateEvent(ctx context.Context, e *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.State == store.EventRunning {
		if existing := s.runningEventForStepLocked(e.StepID); existing != nil {
			return store.ErrConflict
		}
	}
	s.events[e.ID] = clone(e)
	return nil
}

func (s *Store) runningEventForStepLocked(stepID string) *store.Event {
	for _, e := range s.events {
		if e.StepID == stepID && e.State == store.EventRunning {
			return e
		}
	}
	return nil
}

func (s *Store) eventForStepLocked(stepID string) *store.Event {
	for _, e := range s.events {
		if e.StepID == stepID {
			return e
		}
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *Store) GetEventForStep(ctx context.Context, stepID string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.eventForStepLocked(stepID)
	if e == nil {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Event
	for _, e := range s.events {
		if filter.State != "" && e.State != filter.State {
			continue
		}
		out = append(out, clone(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateEventState(ctx context.Context, id string, from, to store.EventState, result, errPayload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.State != from {
		return store.ErrConflict
	}
	if to == store.EventRunning {
		if existing := s.runningEventForStepLocked(e.StepID); existing != nil && existing.ID != id {
			return store.ErrConflict
		}
	}
	e.State = to
	if result != nil {
		e.Result = result
	}
	if errPayload != nil {
		e.Error = errPayload
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State == store.TaskRunning {
		if existing := s.runningTaskForStepLocked(t.StepID); existing != nil {
			return store.ErrConflict
		}
	}
	s.tasks[t.ID] = clone(t)
	return nil
}

func (s *Store) runningTaskForStepLocked(stepID string) *store.Task {
	for _, t := range s.tasks {
		if t.StepID == stepID && t.State == store.TaskRunning {
			return t
		}
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(t), nil
}

func matchesTopic(topics []string, topic string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Task
	for _, t := range s.tasks {
		if filter.State != "" && t.State != filter.State {
			continue
		}
		if !matchesTopic(filter.Topics, t.Topic) {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ClaimTask picks the oldest matching pending task and atomically marks it
// running under the lock, so two concurrent claimants can never both win
// the same row — the defining guarantee the sqlite/postgres backends get
// from a conditional UPDATE instead.
func (s *Store) ClaimTask(ctx context.Context, filter store.TaskFilter, claimedBy string) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*store.Task
	for _, t := range s.tasks {
		if t.State != store.TaskPending {
			continue
		}
		if !matchesTopic(filter.Topics, t.Topic) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	winner := candidates[0]
	if existing := s.runningTaskForStepLocked(winner.StepID); existing != nil {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	winner.State = store.TaskRunning
	winner.ClaimedBy = claimedBy
	winner.ClaimedAt = &now
	winner.Attempts++
	winner.UpdatedAt = now
	return clone(winner), nil
}

func (s *Store) CompleteTask(ctx context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.State != store.TaskRunning {
		return store.ErrConflict
	}
	t.State = store.TaskCompleted
	t.Result = result
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FailTask(ctx context.Context, id string, errPayload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.State != store.TaskRunning {
		return store.ErrConflict
	}
	t.State = store.TaskFailed
	t.Error = errPayload
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RequeueStaleTasks(ctx context.Context, claimedBy string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.State == store.TaskRunning && t.ClaimedBy == claimedBy {
			t.State = store.TaskPending
			t.ClaimedBy = ""
			t.ClaimedAt = nil
			t.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// --- logs ---

func (s *Store) AppendLog(ctx context.Context, l *store.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, clone(l))
	return nil
}

func (s *Store) ListLogs(ctx context.Context, workflowID string) ([]*store.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Log
	for _, l := range s.logs {
		if l.WorkflowID == workflowID {
			out = append(out, clone(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// --- servers ---

func (s *Store) UpsertServer(ctx context.Context, srv *store.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[srv.ID] = clone(srv)
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return store.ErrNotFound
	}
	srv.PingTime = at
	return nil
}

func (s *Store) ListServers(ctx context.Context) ([]*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Server
	for _, srv := range s.servers {
		out = append(out, clone(srv))
	}
	return out, nil
}

func (s *Store) DeadServers(ctx context.Context, staleBefore time.Time) ([]*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Server
	for _, srv := range s.servers {
		if srv.PingTime.Before(staleBefore) {
			out = append(out, clone(srv))
		}
	}
	return out, nil
}

// --- locks ---

func (s *Store) AcquireLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.locks[key]
	if ok && existing.HolderID != holderID && existing.ExpiresAt.After(now) {
		return false, nil
	}
	s.locks[key] = &store.Lock{Key: key, HolderID: holderID, ExpiresAt: expiresAt}
	return true, nil
}

func (s *Store) ExtendLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[key]
	if !ok || existing.HolderID != holderID {
		return false, nil
	}
	existing.ExpiresAt = expiresAt
	return true, nil
}

func (s *Store) ReleaseLock(ctx context.Context, key, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[key]
	if !ok {
		return nil
	}
	if existing.HolderID != holderID {
		return store.ErrConflict
	}
	delete(s.locks, key)
	return nil
}

func (s *Store) GetLock(ctx context.Context, key string) (*store.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(l), nil
}
