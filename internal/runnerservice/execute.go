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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentflow/agentflow/internal/agentlog"
	"github.com/agentflow/agentflow/internal/engineerr"
	"github.com/agentflow/agentflow/internal/statemachine"
	"github.com/agentflow/agentflow/internal/store"
)

// driveOne acquires stepID's advisory lock, advances it one step, and
// enqueues any followups. The lock is what keeps two runner services from
// both observing a step in "ready" and both creating the same children —
// the conditional state transitions inside statemachine.Drive only
// protect the step's own state field, not the children a CreateChildStep
// action produces.
func (s *Service) driveOne(ctx context.Context, stepID string) {
	defer s.wg.Done()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return
	}

	if err := s.store.AcquireStepLock(ctx, stepID, s.cfg.ServerID); err != nil {
		if err != store.ErrConflict {
			s.log.Error("acquire step lock", agentlog.Error(err), slog.String(agentlog.StepIDKey, stepID))
		}
		return
	}
	if s.metrics != nil {
		s.metrics.StepClaimed(ctx)
		s.metrics.LockAcquired(ctx)
	}
	defer func() {
		if err := s.store.ReleaseStepLock(ctx, stepID, s.cfg.ServerID); err != nil && err != store.ErrConflict {
			s.log.Warn("release step lock", agentlog.Error(err), slog.String(agentlog.StepIDKey, stepID))
		}
	}()

	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		if err != store.ErrNotFound {
			s.log.Error("load step", agentlog.Error(err), slog.String(agentlog.StepIDKey, stepID))
		}
		return
	}

	idx, err := s.indexForStep(ctx, step)
	if err != nil {
		s.log.Error("load flow index", agentlog.Error(err), slog.String(agentlog.StepIDKey, stepID))
		return
	}

	if s.metrics != nil {
		s.metrics.StepStarted()
	}
	start := time.Now()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "statemachine.drive")
		defer span.End()
	}
	followups, err := statemachine.Drive(ctx, s.store, s.interpreter, idx, step)
	if s.metrics != nil {
		s.metrics.StepFinished(ctx, step.FacetName, time.Since(start))
	}
	if err != nil {
		s.log.Error("drive step", agentlog.Error(err), slog.String(agentlog.StepIDKey, stepID))
		return
	}
	for _, id := range followups {
		s.Enqueue(id)
	}
}

// claimableTopics returns the registered handler topics this service is
// allowed to claim, narrowed by cfg.Topics if set.
func (s *Service) claimableTopics() []string {
	topics := s.handlers.Topics()
	if len(s.cfg.Topics) == 0 {
		return topics
	}
	allowed := make(map[string]bool, len(s.cfg.Topics))
	for _, t := range s.cfg.Topics {
		allowed[t] = true
	}
	out := topics[:0]
	for _, t := range topics {
		if allowed[t] {
			out = append(out, t)
		}
	}
	return out
}

// claimAndExecute claims as many pending tasks as the semaphore has
// spare capacity for, right now, and executes each with its registered
// Handler. Tasks for topics with no Handler are left pending — they
// belong to an external agent process outside this service's scope.
func (s *Service) claimAndExecute(ctx context.Context) {
	if s.draining.Load() {
		return
	}
	topics := s.claimableTopics()
	if len(topics) == 0 {
		return
	}
	for {
		select {
		case s.semaphore <- struct{}{}:
		default:
			return
		}

		task, err := s.dispatcher.Claim(ctx, topics, s.cfg.ServerID)
		if err != nil {
			<-s.semaphore
			if err != store.ErrNotFound {
				s.log.Error("claim task", agentlog.Error(err))
			}
			return
		}

		s.wg.Add(1)
		go s.executeTask(ctx, task)
	}
}

func (s *Service) executeTask(ctx context.Context, task *store.Task) {
	defer s.wg.Done()
	defer func() { <-s.semaphore }()

	// claimAndExecute only claims topics claimableTopics() reports as
	// registered, so this is normally unreachable; it guards the window
	// between that check and this lookup if a handler is unregistered
	// mid-flight.
	handler, ok := s.handlers.Lookup(task.Topic)
	if !ok {
		s.failTask(ctx, task, engineerr.New(engineerr.KindInternal, fmt.Sprintf("no handler registered for topic %q", task.Topic)))
		return
	}

	result, err := handler.Handle(ctx, task)
	if err != nil {
		s.failTask(ctx, task, engineerr.New(engineerr.KindAgent, err.Error()))
		return
	}

	stepID, err := s.dispatcher.Complete(ctx, task, result)
	if err != nil {
		s.log.Error("complete task", agentlog.Error(err), slog.String(agentlog.TaskIDKey, task.ID))
		return
	}
	s.Enqueue(stepID)
}

func (s *Service) failTask(ctx context.Context, task *store.Task, engErr *engineerr.Error) {
	payload, err := json.Marshal(engErr)
	if err != nil {
		s.log.Error("marshal task error", agentlog.Error(err), slog.String(agentlog.TaskIDKey, task.ID))
		return
	}
	stepID, err := s.dispatcher.Fail(ctx, task, payload)
	if err != nil {
		s.log.Error("fail task", agentlog.Error(err), slog.String(agentlog.TaskIDKey, task.ID))
		return
	}
	s.Enqueue(stepID)
}
