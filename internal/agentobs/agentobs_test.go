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
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewBuildsUsableProvider(t *testing.T) {
	p, err := New("agentflow-test", "0.0.0-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer("test") == nil {
		t.Error("expected a non-nil tracer")
	}
	if p.Metrics() == nil {
		t.Error("expected a non-nil metrics recorder")
	}

	ctx, span := p.Tracer("test").Start(context.Background(), "unit-test-span")
	span.End()
	_ = ctx
}

func TestTracerProviderOptionsConsoleWritesSpansToExporter(t *testing.T) {
	opts, err := TracerProviderOptions(TracingConfig{Exporter: "console"})
	if err != nil {
		t.Fatalf("TracerProviderOptions: %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("expected one TracerProviderOption for the console exporter, got %d", len(opts))
	}

	p, err := New("agentflow-test", "0.0.0-test", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.Tracer("test").Start(context.Background(), "exported-span")
	span.End()
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
}

func TestTracerProviderOptionsNoneAttachesNoExporter(t *testing.T) {
	opts, err := TracerProviderOptions(TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("TracerProviderOptions: %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("expected no TracerProviderOption for exporter \"none\", got %d", len(opts))
	}
}

func TestTracerProviderOptionsRejectsUnknownExporter(t *testing.T) {
	if _, err := TracerProviderOptions(TracingConfig{Exporter: "bogus"}); err == nil {
		t.Error("expected an error for an unknown exporter name")
	}
}

func TestMetricsHandlerServesPrometheusFormat(t *testing.T) {
	p, err := New("agentflow-test", "0.0.0-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
