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

// Package store defines the eight persisted collections the engine reads
// and writes — flows, workflows, steps, events, tasks, logs, servers, and
// locks — and the conditional-update primitive every
// concurrency-correctness guarantee in the engine is built on top of.
//
// Every mutating DAO method that changes a record's state field takes the
// expected prior state and fails distinguishably (ErrConflict) when it
// does not match, rather than silently overwriting a concurrent writer.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrConflict is returned by a conditional update when the record's
// current state does not match the caller's expected prior state. It
// signals contention, not failure: the caller should re-read and retry or
// abandon, never surface it to a user.
var ErrConflict = errors.New("store: conditional update conflict")

// ErrNotFound is returned when a lookup by ID finds no record.
var ErrNotFound = errors.New("store: not found")

// Flow is an immutable, versioned declaration tree.
type Flow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Declaration json.RawMessage `json:"declaration"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// WorkflowState is a workflow run's lifecycle state.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// Workflow is one invocation of a WorkflowDecl: a root step plus its
// resolved inputs and, once terminal, its outputs or error.
type Workflow struct {
	ID           string          `json:"id"`
	FlowID       string          `json:"flowId"`
	Name         string          `json:"name"`
	RootStepID   string          `json:"rootStepId"`
	State        WorkflowState   `json:"state"`
	Inputs       json.RawMessage `json:"inputs"`
	Outputs      json.RawMessage `json:"outputs,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// StepState is a step's primary lifecycle state.
type StepState string

const (
	StepPending   StepState = "pending"
	StepReady     StepState = "ready"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepCancelled StepState = "cancelled"
	StepIgnored   StepState = "ignored"
)

// LockStatus is a step's orthogonal advisory-lock axis, tracking which
// server currently owns the right to advance it.
type LockStatus string

const (
	LockStatusUnlocked LockStatus = "unlocked"
	LockStatusLocked   LockStatus = "locked"
)

// Step is one node of the interpreter's execution tree: a statement
// instance addressed by (workflow, container path), holding its local
// variable scope and terminal result once it reaches one.
type Step struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	ParentStepID  string          `json:"parentStepId,omitempty"`
	// FacetName is the facet StatementPath is relative to. Usually the
	// same facet as the parent step; set explicitly when a non-event
	// FacetCall steps into a different facet's body.
	FacetName     string          `json:"facetName"`
	StatementPath string          `json:"statementPath"`
	State         StepState       `json:"state"`
	LockStatus    LockStatus      `json:"lockStatus"`
	LockedBy      string          `json:"lockedBy,omitempty"`
	Scope         json.RawMessage `json:"scope,omitempty"`
	Outputs       json.RawMessage `json:"outputs,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// EventState is the lifecycle state of a dispatched event facet call.
type EventState string

const (
	EventPending   EventState = "pending"
	EventRunning   EventState = "running"
	EventCompleted EventState = "completed"
	EventFailed    EventState = "failed"
)

// Event records one asynchronous event-facet invocation bound to a step.
// At most one Event per step_id may be in EventRunning at a time — a
// partial unique index on (step_id) filtered to state='running' enforces
// this at the backend.
type Event struct {
	ID        string          `json:"id"`
	StepID    string          `json:"stepId"`
	FacetName string          `json:"facetName"`
	Topic     string          `json:"topic"`
	State     EventState      `json:"state"`
	Args      json.RawMessage `json:"args"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// TaskState is the lifecycle state of a dispatched external-agent task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task is the dispatcher's unit of work handed to an external agent: a
// claimable row derived from an Event. At most one Task per step_id may
// be in TaskRunning at a time, enforced the same way as Event.
type Task struct {
	ID         string          `json:"id"`
	StepID     string          `json:"stepId"`
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	State      TaskState       `json:"state"`
	ClaimedBy  string          `json:"claimedBy,omitempty"`
	ClaimedAt  *time.Time      `json:"claimedAt,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// LogSeverity is a log record's severity, a five-level ladder coarser
// than slog's so external read clients get a stable vocabulary regardless
// of which runner process emitted the record.
type LogSeverity string

const (
	LogTrace LogSeverity = "trace"
	LogInfo  LogSeverity = "info"
	LogWarn  LogSeverity = "warn"
	LogError LogSeverity = "error"
	LogFatal LogSeverity = "fatal"
)

// LogOriginator distinguishes a log row raised by the engine itself from
// one raised on an external agent's behalf.
type LogOriginator string

const (
	LogOriginatorWorkflow LogOriginator = "workflow"
	LogOriginatorAgent    LogOriginator = "agent"
)

// Log is one interpreter or dispatcher trace record attached to a step,
// surfaced to read clients for debugging a run without needing process
// log access. Order is monotonically increasing per WorkflowID — it is
// the audit sequence number a reader uses to reconstruct the run's true
// event order, since CreatedAt alone cannot distinguish rows written
// within the same clock tick.
type Log struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	StepID     string          `json:"stepId,omitempty"`
	Order      int64           `json:"order"`
	Originator LogOriginator   `json:"originator"`
	Severity   LogSeverity     `json:"severity"`
	Importance int             `json:"importance"`
	Message    string          `json:"message"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Server is a runner process's identity and liveness row.
type Server struct {
	ID       string    `json:"id"`
	Topics   []string  `json:"topics"`
	PingTime time.Time `json:"pingTime"`
}

// Lock is a keyed lease row backing the distributed lock primitive.
type Lock struct {
	Key       string    `json:"key"`
	HolderID  string    `json:"holderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StepFilter narrows ListSteps. Zero-valued fields are not filtered on.
type StepFilter struct {
	WorkflowID string
	State      StepState
}

// TaskFilter narrows ListTasks to a set of pending topics for claiming.
type TaskFilter struct {
	Topics []string
	State  TaskState
}

// EventFilter narrows ListEvents. A zero State matches every state.
type EventFilter struct {
	State EventState
}

// FlowStore persists immutable flow declarations.
type FlowStore interface {
	CreateFlow(ctx context.Context, f *Flow) error
	GetFlow(ctx context.Context, id string) (*Flow, error)
	GetFlowByNameVersion(ctx context.Context, name string, version int) (*Flow, error)
}

// WorkflowStore persists workflow run records.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, state WorkflowState) ([]*Workflow, error)
	// UpdateWorkflowState performs a conditional transition: it succeeds
	// only if the stored state equals from, and returns ErrConflict
	// otherwise.
	UpdateWorkflowState(ctx context.Context, id string, from, to WorkflowState, outputs, errPayload json.RawMessage) error
}

// StepStore persists interpreter execution-tree nodes.
type StepStore interface {
	CreateStep(ctx context.Context, s *Step) error
	GetStep(ctx context.Context, id string) (*Step, error)
	ListSteps(ctx context.Context, filter StepFilter) ([]*Step, error)
	// UpdateStepState performs a conditional transition on the state field.
	UpdateStepState(ctx context.Context, id string, from, to StepState) error
	// UpdateStepResult conditionally transitions state and stores outputs/error atomically.
	UpdateStepResult(ctx context.Context, id string, from, to StepState, outputs, errPayload json.RawMessage) error
	UpdateStepScope(ctx context.Context, id string, scope json.RawMessage) error
	// AcquireStepLock conditionally sets lock_status=locked, lockedBy=holder
	// if currently unlocked. Returns ErrConflict if already locked.
	AcquireStepLock(ctx context.Context, id, holder string) error
	ReleaseStepLock(ctx context.Context, id, holder string) error
}

// EventStore persists event-facet dispatch records.
type EventStore interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	// GetEventForStep returns the Event an event-facet step is waiting on,
	// in whatever state it currently holds (pending, running, completed,
	// or failed) — a step only ever emits one Event in its lifetime, so
	// this is never ambiguous. Returns ErrNotFound if the step hasn't
	// emitted one yet.
	GetEventForStep(ctx context.Context, stepID string) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	UpdateEventState(ctx context.Context, id string, from, to EventState, result, errPayload json.RawMessage) error
}

// TaskStore persists dispatcher task rows and implements claim semantics.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	// ClaimTask conditionally transitions one pending task matching
	// filter to running, owned by claimedBy, and returns it. Returns
	// ErrNotFound if nothing matched.
	ClaimTask(ctx context.Context, filter TaskFilter, claimedBy string) (*Task, error)
	CompleteTask(ctx context.Context, id string, result json.RawMessage) error
	FailTask(ctx context.Context, id string, errPayload json.RawMessage) error
	// RequeueStaleTasks transitions every running task claimed by claimedBy
	// (a now-dead server) back to pending, and returns how many were requeued.
	RequeueStaleTasks(ctx context.Context, claimedBy string) (int, error)
}

// LogStore appends and lists step/workflow trace records.
type LogStore interface {
	AppendLog(ctx context.Context, l *Log) error
	ListLogs(ctx context.Context, workflowID string) ([]*Log, error)
}

// NextLogOrder returns the order value the next Log row appended for
// workflowID should carry. Callers are expected to be serialized per
// workflow by the same conditional-transition discipline that guards
// step and workflow state, so a count-based sequence is sufficient
// without a dedicated counter row.
func NextLogOrder(ctx context.Context, st LogStore, workflowID string) (int64, error) {
	existing, err := st.ListLogs(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	return int64(len(existing)) + 1, nil
}

// ServerStore tracks runner process identity and liveness.
type ServerStore interface {
	UpsertServer(ctx context.Context, s *Server) error
	Heartbeat(ctx context.Context, id string, at time.Time) error
	ListServers(ctx context.Context) ([]*Server, error)
	// DeadServers returns servers whose ping_time is older than staleBefore.
	DeadServers(ctx context.Context, staleBefore time.Time) ([]*Server, error)
}

// LockStore backs the keyed lease primitive in internal/lock.
type LockStore interface {
	// AcquireLock conditionally inserts or extends a lease: succeeds if
	// the key is unheld or already expired, or already held by holderID.
	AcquireLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error)
	// ExtendLock conditionally pushes out expiresAt, only if still held by holderID.
	ExtendLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error)
	ReleaseLock(ctx context.Context, key, holderID string) error
	GetLock(ctx context.Context, key string) (*Lock, error)
}

// Store is the full facade over all eight collections. Each backend
// (memory, sqlite, postgres) implements it in full; callers that only
// need a subset should depend on the narrower interfaces above.
type Store interface {
	FlowStore
	WorkflowStore
	StepStore
	EventStore
	TaskStore
	LogStore
	ServerStore
	LockStore

	Close() error
}
