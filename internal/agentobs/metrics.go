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

package agentobs

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics collects Prometheus-compatible metrics for the engine's own
// work: step scheduling, dispatcher traffic, and lock contention. None of
// these describe what a workflow's own facets do.
type Metrics struct {
	meter metric.Meter

	stepsDrivenTotal    metric.Int64Counter
	stepsClaimedTotal   metric.Int64Counter
	tasksRequeuedTotal  metric.Int64Counter
	dispatchEnqueued    metric.Int64Counter
	dispatchCompleted   metric.Int64Counter
	dispatchFailed      metric.Int64Counter
	lockAcquisitions    metric.Int64Counter

	stepDuration metric.Float64Histogram
	taskDuration metric.Float64Histogram

	activeStepsMu sync.RWMutex
	activeSteps   int64
}

func newMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("agentflow")
	m := &Metrics{meter: meter}

	var err error
	if m.stepsDrivenTotal, err = meter.Int64Counter(
		"agentflow_steps_driven_total",
		metric.WithDescription("Steps advanced through the interpreter"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if m.stepsClaimedTotal, err = meter.Int64Counter(
		"agentflow_steps_claimed_total",
		metric.WithDescription("Steps whose advisory lock this process acquired"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if m.tasksRequeuedTotal, err = meter.Int64Counter(
		"agentflow_tasks_requeued_total",
		metric.WithDescription("Dispatcher tasks requeued after a stale claim"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}
	if m.dispatchEnqueued, err = meter.Int64Counter(
		"agentflow_dispatch_enqueued_total",
		metric.WithDescription("Tasks created from pending events"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}
	if m.dispatchCompleted, err = meter.Int64Counter(
		"agentflow_dispatch_completed_total",
		metric.WithDescription("Tasks completed by a handler"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}
	if m.dispatchFailed, err = meter.Int64Counter(
		"agentflow_dispatch_failed_total",
		metric.WithDescription("Tasks failed by a handler"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}
	if m.lockAcquisitions, err = meter.Int64Counter(
		"agentflow_lock_acquisitions_total",
		metric.WithDescription("Advisory step-lock acquisitions"),
		metric.WithUnit("{lock}"),
	); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram(
		"agentflow_step_duration_seconds",
		metric.WithDescription("Time spent in one Drive call on a step"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram(
		"agentflow_task_duration_seconds",
		metric.WithDescription("Time from a task being claimed to its completion or failure"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge(
		"agentflow_active_steps",
		metric.WithDescription("Steps currently being driven by this process"),
		metric.WithUnit("{step}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			m.activeStepsMu.RLock()
			n := m.activeSteps
			m.activeStepsMu.RUnlock()
			observer.Observe(n)
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StepStarted records a step beginning a Drive call.
func (m *Metrics) StepStarted() {
	m.activeStepsMu.Lock()
	m.activeSteps++
	m.activeStepsMu.Unlock()
}

// StepFinished records a step's Drive call returning, successfully or not.
func (m *Metrics) StepFinished(ctx context.Context, facetName string, duration time.Duration) {
	m.activeStepsMu.Lock()
	if m.activeSteps > 0 {
		m.activeSteps--
	}
	m.activeStepsMu.Unlock()

	attrs := metric.WithAttributes(attribute.String("facet", facetName))
	m.stepsDrivenTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
}

// StepClaimed records this process acquiring a step's advisory lock.
func (m *Metrics) StepClaimed(ctx context.Context) {
	m.stepsClaimedTotal.Add(ctx, 1)
}

// LockAcquired records an advisory lock acquisition, step-level or keyed.
func (m *Metrics) LockAcquired(ctx context.Context) {
	m.lockAcquisitions.Add(ctx, 1)
}

// TasksRequeued records n tasks moved from running back to pending after
// their owning server went stale.
func (m *Metrics) TasksRequeued(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.tasksRequeuedTotal.Add(ctx, int64(n))
}

// TaskEnqueued records a task created from a pending event.
func (m *Metrics) TaskEnqueued(ctx context.Context, topic string) {
	m.dispatchEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// TaskCompleted records a handler completing a claimed task.
func (m *Metrics) TaskCompleted(ctx context.Context, topic string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.dispatchCompleted.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// TaskFailed records a handler failing a claimed task.
func (m *Metrics) TaskFailed(ctx context.Context, topic string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.dispatchFailed.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}
