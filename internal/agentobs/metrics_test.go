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
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetrics(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := newMetrics(provider)
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}
	if m.meter == nil {
		t.Error("expected meter to be set")
	}
}

func TestStepStartedFinishedTracksActiveCount(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := newMetrics(provider)
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}

	m.StepStarted()
	m.StepStarted()

	m.activeStepsMu.RLock()
	got := m.activeSteps
	m.activeStepsMu.RUnlock()
	if got != 2 {
		t.Fatalf("expected 2 active steps, got %d", got)
	}

	m.StepFinished(context.Background(), "AddOne", 5*time.Millisecond)

	m.activeStepsMu.RLock()
	got = m.activeSteps
	m.activeStepsMu.RUnlock()
	if got != 1 {
		t.Fatalf("expected 1 active step after one finished, got %d", got)
	}
}

func TestStepFinishedNeverGoesNegative(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := newMetrics(provider)
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}

	m.StepFinished(context.Background(), "AddOne", time.Millisecond)

	m.activeStepsMu.RLock()
	got := m.activeSteps
	m.activeStepsMu.RUnlock()
	if got != 0 {
		t.Fatalf("expected active steps to stay at 0, got %d", got)
	}
}

func TestTasksRequeuedIgnoresNonPositive(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := newMetrics(provider)
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}

	// Exercises the zero-value guard; there is nothing observable to
	// assert beyond "this doesn't panic or add a negative count".
	m.TasksRequeued(context.Background(), 0)
	m.TasksRequeued(context.Background(), -1)
	m.TasksRequeued(context.Background(), 3)
}
