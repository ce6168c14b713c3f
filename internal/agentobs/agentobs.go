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

// Package agentobs wires OpenTelemetry tracing and a Prometheus-backed
// metric.MeterProvider for the engine: spans around interpreter steps and
// dispatcher claim/complete/fail, and counters/histograms for the
// engine's own concerns rather than for anything the executed workflow
// does.
package agentobs

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig selects the span exporter TracerProviderOptions wires up.
type TracingConfig struct {
	// Exporter is one of "console" (default) or "none". "none" builds a
	// TracerProvider with no processor attached, so spans are started and
	// ended but never leave the process; it exists for tests and for
	// operators who run a sidecar collector fed some other way.
	Exporter string
}

// TracerProviderOptions resolves cfg into the TracerProviderOption that
// attaches cfg's chosen span exporter, for passing into New. New with no
// options attaches no exporter, the same as "none".
func TracerProviderOptions(cfg TracingConfig) ([]sdktrace.TracerProviderOption, error) {
	switch cfg.Exporter {
	case "", "console":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("agentobs: build console span exporter: %w", err)
		}
		return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter)}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("agentobs: unknown tracing exporter %q", cfg.Exporter)
	}
}

// Provider owns the engine's tracer and meter providers and the
// Prometheus exporter backing the latter.
type Provider struct {
	tp   *sdktrace.TracerProvider
	mp   *metric.MeterProvider
	prom *prometheus.Exporter
	coll *Metrics
}

// New builds a Provider for a process identified by serviceName/version.
// It sets the global otel tracer provider so libraries reaching for
// otel.Tracer directly pick it up too.
func New(serviceName, version string, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("agentobs: build resource: %w", err)
	}

	allOpts := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	tp := sdktrace.NewTracerProvider(allOpts...)
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("agentobs: build prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	coll, err := newMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("agentobs: build metrics: %w", err)
	}

	return &Provider{tp: tp, mp: mp, prom: promExporter, coll: coll}, nil
}

// Tracer returns a named tracer for starting spans.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Metrics returns the engine's metric recorder.
func (p *Provider) Metrics() *Metrics {
	return p.coll
}

// MetricsHandler exposes the Prometheus exporter's registry over HTTP.
// The otel prometheus exporter registers against the default registry,
// so promhttp.Handler() serves it without needing a reference to prom.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and releases both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}

// ForceFlush exports all pending spans and metrics synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if err := p.tp.ForceFlush(ctx); err != nil {
		return err
	}
	return p.mp.ForceFlush(ctx)
}
