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

// Package sqlite implements store.Store on top of modernc.org/sqlite, a
// pure-Go driver requiring no cgo toolchain. Partial unique indexes on
// (step_id) filtered to state='running' enforce the at-most-one-running
// invariant for events and tasks at the database layer, the same
// guarantee the memory backend emulates under a mutex.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentflow/agentflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	declaration TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(name, version)
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	name TEXT NOT NULL,
	root_step_id TEXT NOT NULL,
	state TEXT NOT NULL,
	inputs TEXT,
	outputs TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	parent_step_id TEXT,
	facet_name TEXT NOT NULL,
	statement_path TEXT NOT NULL,
	state TEXT NOT NULL,
	lock_status TEXT NOT NULL,
	locked_by TEXT,
	scope TEXT,
	outputs TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_workflow ON steps(workflow_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	step_id TEXT NOT NULL,
	facet_name TEXT NOT NULL,
	topic TEXT NOT NULL,
	state TEXT NOT NULL,
	args TEXT,
	result TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_running_per_step
	ON events(step_id) WHERE state = 'running';

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	step_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	topic TEXT NOT NULL,
	state TEXT NOT NULL,
	claimed_by TEXT,
	claimed_at TEXT,
	payload TEXT,
	result TEXT,
	error TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_running_per_step
	ON tasks(step_id) WHERE state = 'running';
CREATE INDEX IF NOT EXISTS idx_tasks_topic_state ON tasks(topic, state);

CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	step_id TEXT,
	log_order INTEGER NOT NULL,
	originator TEXT NOT NULL,
	severity TEXT NOT NULL,
	importance INTEGER NOT NULL,
	message TEXT NOT NULL,
	fields TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_workflow ON logs(workflow_id);

CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	topics TEXT,
	ping_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
	key TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`

// Store is a sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the sqlite database at dsn and
// ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullable(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func rawFrom(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

// --- flows ---

func (s *Store) CreateFlow(ctx context.Context, f *store.Flow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, version, declaration, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Version, string(f.Declaration), timeStr(f.CreatedAt))
	return err
}

func (s *Store) GetFlow(ctx context.Context, id string) (*store.Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, declaration, created_at FROM flows WHERE id = ?`, id)
	return scanFlow(row)
}

func (s *Store) GetFlowByNameVersion(ctx context.Context, name string, version int) (*store.Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, declaration, created_at FROM flows WHERE name = ? AND version = ?`, name, version)
	return scanFlow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*store.Flow, error) {
	var f store.Flow
	var declaration, createdAt string
	if err := row.Scan(&f.ID, &f.Name, &f.Version, &declaration, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	f.Declaration = json.RawMessage(declaration)
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}

// --- workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, w *store.Workflow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.FlowID, w.Name, w.RootStepID, w.State, nullable(w.Inputs), nullable(w.Outputs), nullable(w.Error),
		timeStr(w.CreatedAt), timeStr(w.UpdatedAt))
	return err
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (s *Store) ListWorkflows(ctx context.Context, state store.WorkflowState) ([]*store.Workflow, error) {
	query := `SELECT id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at
		 FROM workflows`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkflow(row rowScanner) (*store.Workflow, error) {
	var w store.Workflow
	var inputs, outputs, errPayload sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&w.ID, &w.FlowID, &w.Name, &w.RootStepID, &w.State, &inputs, &outputs, &errPayload, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	w.Inputs = rawFrom(inputs)
	w.Outputs = rawFrom(outputs)
	w.Error = rawFrom(errPayload)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func (s *Store) UpdateWorkflowState(ctx context.Context, id string, from, to store.WorkflowState, outputs, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET state = ?, outputs = COALESCE(?, outputs), error = COALESCE(?, error), updated_at = ?
		 WHERE id = ? AND state = ?`,
		to, nullable(outputs), nullable(errPayload), timeStr(time.Now()), id, from)
	return checkConditional(res, err)
}

func checkConditional(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// --- steps ---

func (s *Store) CreateStep(ctx context.Context, st *store.Step) error {
	if st.LockStatus == "" {
		st.LockStatus = store.LockStatusUnlocked
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (id, workflow_id, parent_step_id, facet_name, statement_path, state, lock_status, locked_by, scope, outputs, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.WorkflowID, nullStr(st.ParentStepID), st.FacetName, st.StatementPath, st.State, st.LockStatus, nullStr(st.LockedBy),
		nullable(st.Scope), nullable(st.Outputs), nullable(st.Error), timeStr(st.CreatedAt), timeStr(st.UpdatedAt))
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetStep(ctx context.Context, id string) (*store.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, parent_step_id, facet_name, statement_path, state, lock_status, locked_by, scope, outputs, error, created_at, updated_at
		 FROM steps WHERE id = ?`, id)
	return scanStep(row)
}

func (s *Store) ListSteps(ctx context.Context, filter store.StepFilter) ([]*store.Step, error) {
	query := `SELECT id, workflow_id, parent_step_id, facet_name, statement_path, state, lock_status, locked_by, scope, outputs, error, created_at, updated_at FROM steps WHERE 1=1`
	var args []any
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStep(row rowScanner) (*store.Step, error) {
	var st store.Step
	var parentStepID, lockedBy, scope, outputs, errPayload sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&st.ID, &st.WorkflowID, &parentStepID, &st.FacetName, &st.StatementPath, &st.State, &st.LockStatus, &lockedBy,
		&scope, &outputs, &errPayload, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.ParentStepID = parentStepID.String
	st.LockedBy = lockedBy.String
	st.Scope = rawFrom(scope)
	st.Outputs = rawFrom(outputs)
	st.Error = rawFrom(errPayload)
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

func (s *Store) UpdateStepState(ctx context.Context, id string, from, to store.StepState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, timeStr(time.Now()), id, from)
	return checkConditional(res, err)
}

func (s *Store) UpdateStepResult(ctx context.Context, id string, from, to store.StepState, outputs, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET state = ?, outputs = COALESCE(?, outputs), error = COALESCE(?, error), updated_at = ?
		 WHERE id = ? AND state = ?`,
		to, nullable(outputs), nullable(errPayload), timeStr(time.Now()), id, from)
	return checkConditional(res, err)
}

func (s *Store) UpdateStepScope(ctx context.Context, id string, scope json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE steps SET scope = ?, updated_at = ? WHERE id = ?`,
		nullable(scope), timeStr(time.Now()), id)
	return err
}

func (s *Store) AcquireStepLock(ctx context.Context, id, holder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET lock_status = ?, locked_by = ?, updated_at = ? WHERE id = ? AND lock_status = ?`,
		store.LockStatusLocked, holder, timeStr(time.Now()), id, store.LockStatusUnlocked)
	return checkConditional(res, err)
}

func (s *Store) ReleaseStepLock(ctx context.Context, id, holder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET lock_status = ?, locked_by = NULL, updated_at = ? WHERE id = ? AND lock_status = ? AND locked_by = ?`,
		store.LockStatusUnlocked, timeStr(time.Now()), id, store.LockStatusLocked, holder)
	return checkConditional(res, err)
}

// --- events ---

func (s *Store) CreateEvent(ctx context.Context, e *store.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StepID, e.FacetName, e.Topic, e.State, nullable(e.Args), nullable(e.Result), nullable(e.Error),
		timeStr(e.CreatedAt), timeStr(e.UpdatedAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, id string) (*store.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *Store) GetEventForStep(ctx context.Context, stepID string) (*store.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at
		 FROM events WHERE step_id = ?`, stepID)
	return scanEvent(row)
}

func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error) {
	query := `SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at FROM events WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*store.Event, error) {
	var e store.Event
	var args, result, errPayload sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.StepID, &e.FacetName, &e.Topic, &e.State, &args, &result, &errPayload, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e.Args = rawFrom(args)
	e.Result = rawFrom(result)
	e.Error = rawFrom(errPayload)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (s *Store) UpdateEventState(ctx context.Context, id string, from, to store.EventState, result, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET state = ?, result = COALESCE(?, result), error = COALESCE(?, error), updated_at = ?
		 WHERE id = ? AND state = ?`,
		to, nullable(result), nullable(errPayload), timeStr(time.Now()), id, from)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return checkConditional(res, err)
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StepID, t.EventID, t.Topic, t.State, nullStr(t.ClaimedBy), claimedAtStr(t.ClaimedAt),
		nullable(t.Payload), nullable(t.Result), nullable(t.Error), t.Attempts, timeStr(t.CreatedAt), timeStr(t.UpdatedAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func claimedAtStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	query := `SELECT id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	if len(filter.Topics) > 0 {
		query += ` AND topic IN (` + placeholders(len(filter.Topics)) + `)`
		for _, t := range filter.Topics {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}

func scanTask(row rowScanner) (*store.Task, error) {
	var t store.Task
	var claimedBy, claimedAt, payload, result, errPayload sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.StepID, &t.EventID, &t.Topic, &t.State, &claimedBy, &claimedAt, &payload, &result, &errPayload,
		&t.Attempts, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		ts := parseTime(claimedAt.String)
		t.ClaimedAt = &ts
	}
	t.Payload = rawFrom(payload)
	t.Result = rawFrom(result)
	t.Error = rawFrom(errPayload)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// ClaimTask selects the oldest pending task matching filter and
// conditionally transitions it to running inside a transaction, so a
// concurrent claimant on another connection either sees it already gone
// or loses the conditional UPDATE.
func (s *Store) ClaimTask(ctx context.Context, filter store.TaskFilter, claimedBy string) (*store.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT id FROM tasks WHERE state = 'pending'`
	var args []any
	if len(filter.Topics) > 0 {
		query += ` AND topic IN (` + placeholders(len(filter.Topics)) + `)`
		for _, t := range filter.Topics {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := timeStr(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state = 'running', claimed_by = ?, claimed_at = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND state = 'pending'`,
		claimedBy, now, now, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrConflict
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

func (s *Store) CompleteTask(ctx context.Context, id string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'completed', result = ?, updated_at = ? WHERE id = ? AND state = 'running'`,
		nullable(result), timeStr(time.Now()), id)
	return checkConditional(res, err)
}

func (s *Store) FailTask(ctx context.Context, id string, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'failed', error = ?, updated_at = ? WHERE id = ? AND state = 'running'`,
		nullable(errPayload), timeStr(time.Now()), id)
	return checkConditional(res, err)
}

func (s *Store) RequeueStaleTasks(ctx context.Context, claimedBy string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = ?
		 WHERE state = 'running' AND claimed_by = ?`,
		timeStr(time.Now()), claimedBy)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- logs ---

func (s *Store) AppendLog(ctx context.Context, l *store.Log) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, workflow_id, step_id, log_order, originator, severity, importance, message, fields, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.WorkflowID, nullStr(l.StepID), l.Order, l.Originator, l.Severity, l.Importance, l.Message, nullable(l.Fields), timeStr(l.CreatedAt))
	return err
}

func (s *Store) ListLogs(ctx context.Context, workflowID string) ([]*store.Log, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, step_id, log_order, originator, severity, importance, message, fields, created_at FROM logs WHERE workflow_id = ? ORDER BY log_order ASC`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Log
	for rows.Next() {
		var l store.Log
		var stepID, fields sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.WorkflowID, &stepID, &l.Order, &l.Originator, &l.Severity, &l.Importance, &l.Message, &fields, &createdAt); err != nil {
			return nil, err
		}
		l.StepID = stepID.String
		l.Fields = rawFrom(fields)
		l.CreatedAt = parseTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- servers ---

func (s *Store) UpsertServer(ctx context.Context, srv *store.Server) error {
	topics, err := json.Marshal(srv.Topics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO servers (id, topics, ping_time) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET topics = excluded.topics, ping_time = excluded.ping_time`,
		srv.ID, string(topics), timeStr(srv.PingTime))
	return err
}

func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE servers SET ping_time = ? WHERE id = ?`, timeStr(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListServers(ctx context.Context) ([]*store.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, topics, ping_time FROM servers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanServers(rows)
}

func (s *Store) DeadServers(ctx context.Context, staleBefore time.Time) ([]*store.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, topics, ping_time FROM servers WHERE ping_time < ?`, timeStr(staleBefore))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanServers(rows)
}

func scanServers(rows *sql.Rows) ([]*store.Server, error) {
	var out []*store.Server
	for rows.Next() {
		var srv store.Server
		var topics sql.NullString
		var pingTime string
		if err := rows.Scan(&srv.ID, &topics, &pingTime); err != nil {
			return nil, err
		}
		if topics.Valid && topics.String != "" {
			_ = json.Unmarshal([]byte(topics.String), &srv.Topics)
		}
		srv.PingTime = parseTime(pingTime)
		out = append(out, &srv)
	}
	return out, rows.Err()
}

// --- locks ---

func (s *Store) AcquireLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var holder, expires string
	err = tx.QueryRowContext(ctx, `SELECT holder_id, expires_at FROM locks WHERE key = ?`, key).Scan(&holder, &expires)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO locks (key, holder_id, expires_at) VALUES (?, ?, ?)`, key, holderID, timeStr(expiresAt)); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	if holder != holderID && parseTime(expires).After(time.Now()) {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE locks SET holder_id = ?, expires_at = ? WHERE key = ?`, holderID, timeStr(expiresAt), key); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) ExtendLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE key = ? AND holder_id = ?`, timeStr(expiresAt), key, holderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReleaseLock(ctx context.Context, key, holderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND holder_id = ?`, key, holderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM locks WHERE key = ?`, key).Scan(&exists); err == nil {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) GetLock(ctx context.Context, key string) (*store.Lock, error) {
	var l store.Lock
	var expiresAt string
	err := s.db.QueryRowContext(ctx, `SELECT key, holder_id, expires_at FROM locks WHERE key = ?`, key).Scan(&l.Key, &l.HolderID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.ExpiresAt = parseTime(expiresAt)
	return &l, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite wraps the sqlite3 result code in its error text;
	// matching on the message is how the teacher's own sqlite backend
	// distinguishes a constraint failure from a generic exec error.
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
