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

// Package runnerservice is the long-running process that drives workflows
// to completion: it submits new runs, re-drives steps as they become
// ready or as their events resolve, claims dispatcher tasks for the
// topics it has an in-process Handler for, and heartbeats its own
// liveness so other runner services can detect it going dark.
package runnerservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentflow/agentflow/internal/agentlog"
	"github.com/agentflow/agentflow/internal/agentobs"
	"github.com/agentflow/agentflow/internal/ast"
	"github.com/agentflow/agentflow/internal/dispatcher"
	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/interpreter"
	"github.com/agentflow/agentflow/internal/statemachine"
	"github.com/agentflow/agentflow/internal/store"
)

// Handler executes one claimed Task in-process and returns its result.
// This is the injected capability the teacher's dispatcher registry
// pattern generalizes into: a tagged variant over handler categories
// (in-process facet vs external agent) collapses to "anything registered
// under this topic is ours to run; anything not registered is left
// pending for a genuinely external agent process to claim instead."
type Handler interface {
	Handle(ctx context.Context, task *store.Task) (json.RawMessage, error)
}

// Registry maps topics to the Handler that executes them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds topic to h, replacing any previous binding.
func (r *Registry) Register(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

// Lookup returns the Handler bound to topic, if any.
func (r *Registry) Lookup(topic string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics returns every topic currently registered.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Config tunes one Service instance.
type Config struct {
	// ServerID identifies this process's Server row. Defaults to a
	// generated UUID.
	ServerID string
	// Topics restricts which registered handler topics this service
	// claims tasks for. Empty means every registered topic.
	Topics []string
	// MaxConcurrent bounds steps driven and tasks executed at once.
	MaxConcurrent int
	// PollInterval is the delay between sweeps for ready steps, pending
	// events, and claimable tasks.
	PollInterval time.Duration
	// HeartbeatInterval is how often this service's Server row's
	// ping_time is refreshed.
	HeartbeatInterval time.Duration
	// ClaimStaleAfter is how long since a server's last heartbeat before
	// it is presumed dead and its claimed tasks reclaimed.
	ClaimStaleAfter time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight work before
	// forcing a requeue of everything this service still owns.
	ShutdownGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.ServerID == "" {
		c.ServerID = uuid.NewString()
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ClaimStaleAfter <= 0 {
		c.ClaimStaleAfter = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
}

// Service is one runner service process.
type Service struct {
	store       store.Store
	dispatcher  *dispatcher.Dispatcher
	interpreter *interpreter.Interpreter
	handlers    *Registry
	cfg         Config
	log         *slog.Logger

	metrics *agentobs.Metrics
	tracer  trace.Tracer

	semaphore chan struct{}
	queue     chan string

	draining atomic.Bool
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	idxMu    sync.Mutex
	idxCache map[string]*ast.Index
}

// New returns a Service ready to Run. handlers may be nil, equivalent to
// an empty Registry (the service then only drives steps and pumps
// events; it claims nothing).
func New(st store.Store, disp *dispatcher.Dispatcher, in *interpreter.Interpreter, handlers *Registry, cfg Config, log *slog.Logger) *Service {
	cfg.setDefaults()
	if handlers == nil {
		handlers = NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:       st,
		dispatcher:  disp,
		interpreter: in,
		handlers:    handlers,
		cfg:         cfg,
		log:         agentlog.WithComponent(log, "runnerservice"),
		semaphore:   make(chan struct{}, cfg.MaxConcurrent),
		queue:       make(chan string, 256),
		stop:        make(chan struct{}),
		idxCache:    map[string]*ast.Index{},
	}
}

// ServerID returns this service's Server row identity.
func (s *Service) ServerID() string { return s.cfg.ServerID }

// SetObserver attaches metrics and tracing for this service and the
// dispatcher it drives. Either argument may be nil.
func (s *Service) SetObserver(m *agentobs.Metrics, tracer trace.Tracer) {
	s.metrics = m
	s.tracer = tracer
	s.dispatcher.SetObserver(m, tracer)
}

// Submit creates a new Workflow run from flowID's WorkflowDecl named
// workflowName, and enqueues its root step for driving.
func (s *Service) Submit(ctx context.Context, flowID, workflowName string, inputs map[string]any) (*store.Workflow, error) {
	idx, err := s.indexForFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	wfDecl, ok := idx.Workflows[workflowName]
	if !ok {
		return nil, engineerr.New(engineerr.KindReference, fmt.Sprintf("workflow %q not found in flow %s", workflowName, flowID))
	}
	facet, ok := idx.Facets[wfDecl.FacetName]
	if !ok || facet.Body == nil {
		return nil, engineerr.New(engineerr.KindReference, fmt.Sprintf("facet %q not found for workflow %q", wfDecl.FacetName, workflowName))
	}

	scope, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, fmt.Errorf("runnerservice: marshal inputs: %w", err)
	}
	now := time.Now().UTC()
	workflowID := uuid.NewString()
	root := &store.Step{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		FacetName:     wfDecl.FacetName,
		StatementPath: facet.Body.ID,
		State:         store.StepReady,
		LockStatus:    store.LockStatusUnlocked,
		Scope:         scope,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateStep(ctx, root); err != nil {
		return nil, fmt.Errorf("runnerservice: create root step: %w", err)
	}
	wf := &store.Workflow{
		ID:         workflowID,
		FlowID:     flowID,
		Name:       workflowName,
		RootStepID: root.ID,
		State:      store.WorkflowRunning,
		Inputs:     scope,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("runnerservice: create workflow: %w", err)
	}
	s.Enqueue(root.ID)
	return wf, nil
}

// Cancel flips workflowID to cancelled and every one of its non-terminal
// descendant steps along with it. Any task already claimed for one of
// those steps runs to completion, but its result lands on the task only —
// the step stays cancelled.
func (s *Service) Cancel(ctx context.Context, workflowID string) error {
	if err := statemachine.Cancel(ctx, s.store, workflowID); err != nil {
		return fmt.Errorf("runnerservice: cancel workflow %s: %w", workflowID, err)
	}
	return nil
}

// Enqueue schedules stepID to be re-driven. Safe to call from any
// goroutine, including from within a Handler.
func (s *Service) Enqueue(stepID string) {
	select {
	case s.queue <- stepID:
	default:
		go func() { s.queue <- stepID }()
	}
}

func (s *Service) indexForFlow(ctx context.Context, flowID string) (*ast.Index, error) {
	s.idxMu.Lock()
	if idx, ok := s.idxCache[flowID]; ok {
		s.idxMu.Unlock()
		return idx, nil
	}
	s.idxMu.Unlock()

	flow, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("runnerservice: load flow %s: %w", flowID, err)
	}
	program, err := ast.Normalize(flow.Declaration)
	if err != nil {
		return nil, fmt.Errorf("runnerservice: normalize flow %s: %w", flowID, err)
	}
	idx := ast.BuildIndex(program)

	s.idxMu.Lock()
	s.idxCache[flowID] = idx
	s.idxMu.Unlock()
	return idx, nil
}

func (s *Service) indexForStep(ctx context.Context, step *store.Step) (*ast.Index, error) {
	wf, err := s.store.GetWorkflow(ctx, step.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("runnerservice: load workflow %s: %w", step.WorkflowID, err)
	}
	return s.indexForFlow(ctx, wf.FlowID)
}

// Run registers this service's Server row, reconciles state left behind
// by any previous process owning this identity or by dead peers, and
// blocks driving work until ctx is cancelled or Stop is called.
func (s *Service) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}
	if err := s.reconcile(ctx); err != nil {
		return err
	}

	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-s.stop:
			return s.shutdown()
		case stepID := <-s.queue:
			s.wg.Add(1)
			go s.driveOne(ctx, stepID)
		case <-pollTicker.C:
			s.pollOnce(ctx)
		case <-s.dispatcher.Notify():
			s.claimAndExecute(ctx)
		case <-heartbeatTicker.C:
			s.heartbeat(ctx)
		}
	}
}

// Stop requests a graceful shutdown; Run returns once it completes.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) register(ctx context.Context) error {
	return s.store.UpsertServer(ctx, &store.Server{
		ID:       s.cfg.ServerID,
		Topics:   s.cfg.Topics,
		PingTime: time.Now().UTC(),
	})
}

func (s *Service) heartbeat(ctx context.Context) {
	if err := s.store.Heartbeat(ctx, s.cfg.ServerID, time.Now().UTC()); err != nil {
		s.log.Error("heartbeat failed", agentlog.Error(err), slog.String(agentlog.ServerIDKey, s.cfg.ServerID))
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	if s.draining.Load() {
		return
	}
	if _, err := s.dispatcher.PumpEvents(ctx); err != nil {
		s.log.Error("pump events", agentlog.Error(err))
	}
	steps, err := s.store.ListSteps(ctx, store.StepFilter{State: store.StepReady})
	if err != nil {
		s.log.Error("list ready steps", agentlog.Error(err))
	} else {
		for _, st := range steps {
			s.Enqueue(st.ID)
		}
	}
	s.claimAndExecute(ctx)
}

// reconcile runs once at startup: requeue tasks owned by servers whose
// heartbeat has gone stale, and re-drive any running step whose event
// already resolved before a prior process could commit step completion
// — the crash-between-task-completion-and-step-completion boundary case.
func (s *Service) reconcile(ctx context.Context) error {
	dead, err := s.store.DeadServers(ctx, time.Now().UTC().Add(-s.cfg.ClaimStaleAfter))
	if err != nil {
		return fmt.Errorf("runnerservice: list dead servers: %w", err)
	}
	var deadIDs []string
	for _, d := range dead {
		if d.ID != s.cfg.ServerID {
			deadIDs = append(deadIDs, d.ID)
		}
	}
	if len(deadIDs) > 0 {
		if _, err := s.dispatcher.RequeueStale(ctx, deadIDs); err != nil {
			return fmt.Errorf("runnerservice: requeue stale tasks: %w", err)
		}
	}

	resolved, err := s.store.ListEvents(ctx, store.EventFilter{State: store.EventCompleted})
	if err != nil {
		return fmt.Errorf("runnerservice: list resolved events: %w", err)
	}
	for _, ev := range resolved {
		step, err := s.store.GetStep(ctx, ev.StepID)
		if err != nil {
			continue
		}
		if step.State == store.StepRunning {
			s.Enqueue(step.ID)
		}
	}

	ready, err := s.store.ListSteps(ctx, store.StepFilter{State: store.StepReady})
	if err != nil {
		return fmt.Errorf("runnerservice: list ready steps: %w", err)
	}
	for _, st := range ready {
		s.Enqueue(st.ID)
	}
	return nil
}

func (s *Service) shutdown() error {
	s.draining.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}

	n, err := s.dispatcher.RequeueStale(context.Background(), []string{s.cfg.ServerID})
	if err != nil {
		return fmt.Errorf("runnerservice: requeue owned tasks on shutdown: %w", err)
	}
	s.log.Info("shutdown complete", slog.Int("requeued", n))
	return nil
}
