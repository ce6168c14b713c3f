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

// Package postgres implements store.Store for distributed deployments,
// on top of database/sql with the pgx stdlib driver. Partial unique
// indexes on (step_id) filtered to state='running' enforce the
// at-most-one-running invariant for events and tasks at the database
// layer.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agentflow/agentflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	declaration JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(name, version)
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	name TEXT NOT NULL,
	root_step_id TEXT NOT NULL,
	state TEXT NOT NULL,
	inputs JSONB,
	outputs JSONB,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
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
	scope JSONB,
	outputs JSONB,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_workflow ON steps(workflow_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	step_id TEXT NOT NULL,
	facet_name TEXT NOT NULL,
	topic TEXT NOT NULL,
	state TEXT NOT NULL,
	args JSONB,
	result JSONB,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
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
	claimed_at TIMESTAMPTZ,
	payload JSONB,
	result JSONB,
	error JSONB,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_running_per_step
	ON tasks(step_id) WHERE state = 'running';
CREATE INDEX IF NOT EXISTS idx_tasks_topic_state ON tasks(topic, state);

CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	step_id TEXT,
	log_order BIGINT NOT NULL,
	originator TEXT NOT NULL,
	severity TEXT NOT NULL,
	importance INTEGER NOT NULL,
	message TEXT NOT NULL,
	fields JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_workflow ON logs(workflow_id);

CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	topics JSONB,
	ping_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
	key TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// Config configures a PostgreSQL Store.
type Config struct {
	ConnectionString string
	MaxOpenConns      int
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL and ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

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

type rowScanner interface {
	Scan(dest ...any) error
}

func checkConditional(res sql.Result, err error) error {
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
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

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}

// --- flows ---

func (s *Store) CreateFlow(ctx context.Context, f *store.Flow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, version, declaration, created_at) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Name, f.Version, string(f.Declaration), f.CreatedAt.UTC())
	return err
}

func (s *Store) GetFlow(ctx context.Context, id string) (*store.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, version, declaration, created_at FROM flows WHERE id = $1`, id)
	return scanFlow(row)
}

func (s *Store) GetFlowByNameVersion(ctx context.Context, name string, version int) (*store.Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, declaration, created_at FROM flows WHERE name = $1 AND version = $2`, name, version)
	return scanFlow(row)
}

func scanFlow(row rowScanner) (*store.Flow, error) {
	var f store.Flow
	var declaration string
	if err := row.Scan(&f.ID, &f.Name, &f.Version, &declaration, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	f.Declaration = json.RawMessage(declaration)
	return &f, nil
}

// --- workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, w *store.Workflow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.FlowID, w.Name, w.RootStepID, w.State, nullable(w.Inputs), nullable(w.Outputs), nullable(w.Error),
		w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at
		 FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (s *Store) ListWorkflows(ctx context.Context, state store.WorkflowState) ([]*store.Workflow, error) {
	query := `SELECT id, flow_id, name, root_step_id, state, inputs, outputs, error, created_at, updated_at FROM workflows`
	var args []any
	if state != "" {
		query += ` WHERE state = $1`
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
	if err := row.Scan(&w.ID, &w.FlowID, &w.Name, &w.RootStepID, &w.State, &inputs, &outputs, &errPayload, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	w.Inputs = rawFrom(inputs)
	w.Outputs = rawFrom(outputs)
	w.Error = rawFrom(errPayload)
	return &w, nil
}

func (s *Store) UpdateWorkflowState(ctx context.Context, id string, from, to store.WorkflowState, outputs, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET state = $1, outputs = COALESCE($2, outputs), error = COALESCE($3, error), updated_at = $4
		 WHERE id = $5 AND state = $6`,
		to, nullable(outputs), nullable(errPayload), time.Now().UTC(), id, from)
	return checkConditional(res, err)
}

// --- steps ---

func (s *Store) CreateStep(ctx context.Context, st *store.Step) error {
	if st.LockStatus == "" {
		st.LockStatus = store.LockStatusUnlocked
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (id, workflow_id, parent_step_id, facet_name, statement_path, state, lock_status, locked_by, scope, outputs, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		st.ID, st.WorkflowID, nullStr(st.ParentStepID), st.FacetName, st.StatementPath, st.State, st.LockStatus, nullStr(st.LockedBy),
		nullable(st.Scope), nullable(st.Outputs), nullable(st.Error), st.CreatedAt.UTC(), st.UpdatedAt.UTC())
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
		 FROM steps WHERE id = $1`, id)
	return scanStep(row)
}

func (s *Store) ListSteps(ctx context.Context, filter store.StepFilter) ([]*store.Step, error) {
	query := `SELECT id, workflow_id, parent_step_id, facet_name, statement_path, state, lock_status, locked_by, scope, outputs, error, created_at, updated_at FROM steps WHERE TRUE`
	var args []any
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
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
	if err := row.Scan(&st.ID, &st.WorkflowID, &parentStepID, &st.FacetName, &st.StatementPath, &st.State, &st.LockStatus, &lockedBy,
		&scope, &outputs, &errPayload, &st.CreatedAt, &st.UpdatedAt); err != nil {
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
	return &st, nil
}

func (s *Store) UpdateStepState(ctx context.Context, id string, from, to store.StepState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		to, time.Now().UTC(), id, from)
	return checkConditional(res, err)
}

func (s *Store) UpdateStepResult(ctx context.Context, id string, from, to store.StepState, outputs, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET state = $1, outputs = COALESCE($2, outputs), error = COALESCE($3, error), updated_at = $4
		 WHERE id = $5 AND state = $6`,
		to, nullable(outputs), nullable(errPayload), time.Now().UTC(), id, from)
	return checkConditional(res, err)
}

func (s *Store) UpdateStepScope(ctx context.Context, id string, scope json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `UPDATE steps SET scope = $1, updated_at = $2 WHERE id = $3`, nullable(scope), time.Now().UTC(), id)
	return err
}

func (s *Store) AcquireStepLock(ctx context.Context, id, holder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET lock_status = $1, locked_by = $2, updated_at = $3 WHERE id = $4 AND lock_status = $5`,
		store.LockStatusLocked, holder, time.Now().UTC(), id, store.LockStatusUnlocked)
	return checkConditional(res, err)
}

func (s *Store) ReleaseStepLock(ctx context.Context, id, holder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET lock_status = $1, locked_by = NULL, updated_at = $2 WHERE id = $3 AND lock_status = $4 AND locked_by = $5`,
		store.LockStatusUnlocked, time.Now().UTC(), id, store.LockStatusLocked, holder)
	return checkConditional(res, err)
}

// --- events ---

func (s *Store) CreateEvent(ctx context.Context, e *store.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.StepID, e.FacetName, e.Topic, e.State, nullable(e.Args), nullable(e.Result), nullable(e.Error),
		e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, id string) (*store.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func (s *Store) GetEventForStep(ctx context.Context, stepID string) (*store.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at
		 FROM events WHERE step_id = $1`, stepID)
	return scanEvent(row)
}

func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error) {
	query := `SELECT id, step_id, facet_name, topic, state, args, result, error, created_at, updated_at FROM events WHERE TRUE`
	var args []any
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
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
	if err := row.Scan(&e.ID, &e.StepID, &e.FacetName, &e.Topic, &e.State, &args, &result, &errPayload, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e.Args = rawFrom(args)
	e.Result = rawFrom(result)
	e.Error = rawFrom(errPayload)
	return &e, nil
}

func (s *Store) UpdateEventState(ctx context.Context, id string, from, to store.EventState, result, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET state = $1, result = COALESCE($2, result), error = COALESCE($3, error), updated_at = $4
		 WHERE id = $5 AND state = $6`,
		to, nullable(result), nullable(errPayload), time.Now().UTC(), id, from)
	return checkConditional(res, err)
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.StepID, t.EventID, t.Topic, t.State, nullStr(t.ClaimedBy), claimedAt(t.ClaimedAt),
		nullable(t.Payload), nullable(t.Result), nullable(t.Error), t.Attempts, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func claimedAt(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	query := `SELECT id, step_id, event_id, topic, state, claimed_by, claimed_at, payload, result, error, attempts, created_at, updated_at FROM tasks WHERE TRUE`
	var args []any
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if len(filter.Topics) > 0 {
		args = append(args, pqStringArray(filter.Topics))
		query += fmt.Sprintf(" AND topic = ANY($%d)", len(args))
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

// pqStringArray renders a Go string slice as a Postgres text[] array
// literal, avoiding a dependency on lib/pq solely for this helper.
func pqStringArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func scanTask(row rowScanner) (*store.Task, error) {
	var t store.Task
	var claimedBy, payload, result, errPayload sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.StepID, &t.EventID, &t.Topic, &t.State, &claimedBy, &claimedAt, &payload, &result, &errPayload,
		&t.Attempts, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	t.Payload = rawFrom(payload)
	t.Result = rawFrom(result)
	t.Error = rawFrom(errPayload)
	return &t, nil
}

// ClaimTask selects and locks the oldest pending matching row with
// FOR UPDATE SKIP LOCKED so concurrent claimants on different connections
// never contend on the same row, then conditionally transitions it.
func (s *Store) ClaimTask(ctx context.Context, filter store.TaskFilter, claimedBy string) (*store.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT id FROM tasks WHERE state = 'pending'`
	var args []any
	if len(filter.Topics) > 0 {
		args = append(args, pqStringArray(filter.Topics))
		query += fmt.Sprintf(" AND topic = ANY($%d)", len(args))
	}
	query += ` ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state = 'running', claimed_by = $1, claimed_at = $2, attempts = attempts + 1, updated_at = $3
		 WHERE id = $4 AND state = 'pending'`,
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
		 FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

func (s *Store) CompleteTask(ctx context.Context, id string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'completed', result = $1, updated_at = $2 WHERE id = $3 AND state = 'running'`,
		nullable(result), time.Now().UTC(), id)
	return checkConditional(res, err)
}

func (s *Store) FailTask(ctx context.Context, id string, errPayload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'failed', error = $1, updated_at = $2 WHERE id = $3 AND state = 'running'`,
		nullable(errPayload), time.Now().UTC(), id)
	return checkConditional(res, err)
}

func (s *Store) RequeueStaleTasks(ctx context.Context, claimedBy string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = $1
		 WHERE state = 'running' AND claimed_by = $2`,
		time.Now().UTC(), claimedBy)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- logs ---

func (s *Store) AppendLog(ctx context.Context, l *store.Log) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, workflow_id, step_id, log_order, originator, severity, importance, message, fields, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.WorkflowID, nullStr(l.StepID), l.Order, l.Originator, l.Severity, l.Importance, l.Message, nullable(l.Fields), l.CreatedAt.UTC())
	return err
}

func (s *Store) ListLogs(ctx context.Context, workflowID string) ([]*store.Log, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, step_id, log_order, originator, severity, importance, message, fields, created_at FROM logs WHERE workflow_id = $1 ORDER BY log_order ASC`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Log
	for rows.Next() {
		var l store.Log
		var stepID, fields sql.NullString
		if err := rows.Scan(&l.ID, &l.WorkflowID, &stepID, &l.Order, &l.Originator, &l.Severity, &l.Importance, &l.Message, &fields, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.StepID = stepID.String
		l.Fields = rawFrom(fields)
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
		`INSERT INTO servers (id, topics, ping_time) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET topics = excluded.topics, ping_time = excluded.ping_time`,
		srv.ID, string(topics), srv.PingTime.UTC())
	return err
}

func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE servers SET ping_time = $1 WHERE id = $2`, at.UTC(), id)
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
	rows, err := s.db.QueryContext(ctx, `SELECT id, topics, ping_time FROM servers WHERE ping_time < $1`, staleBefore.UTC())
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
		if err := rows.Scan(&srv.ID, &topics, &srv.PingTime); err != nil {
			return nil, err
		}
		if topics.Valid && topics.String != "" {
			_ = json.Unmarshal([]byte(topics.String), &srv.Topics)
		}
		out = append(out, &srv)
	}
	return out, rows.Err()
}

// --- locks ---

func (s *Store) AcquireLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (key, holder_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET holder_id = $2, expires_at = $3
		 WHERE locks.holder_id = $2 OR locks.expires_at < now()`,
		key, holderID, expiresAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ExtendLock(ctx context.Context, key, holderID string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE locks SET expires_at = $1 WHERE key = $2 AND holder_id = $3`, expiresAt.UTC(), key, holderID)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE key = $1 AND holder_id = $2`, key, holderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM locks WHERE key = $1`, key).Scan(&exists); err == nil {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) GetLock(ctx context.Context, key string) (*store.Lock, error) {
	var l store.Lock
	err := s.db.QueryRowContext(ctx, `SELECT key, holder_id, expires_at FROM locks WHERE key = $1`, key).Scan(&l.Key, &l.HolderID, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
