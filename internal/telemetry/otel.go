// Copyright 2025 Tom Barlow
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

package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowcore/runtime/pkg/ferrors"
)

// NewStdoutTracerProvider builds a TracerProvider that writes spans as
// pretty-printed JSON to stdout, installs it as the process-wide global
// provider (for any library that pulls its tracer from otel.Tracer),
// and returns it so the caller can Shutdown it on exit. This mirrors
// the teacher's NewOTelProvider wiring (internal/tracing/otel.go) minus
// its Prometheus-metrics-exporter half, since this engine's own metrics
// are registered directly against the default Prometheus registry
// instead of routed through an OTel metric reader.
func NewStdoutTracerProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("flowcore: create stdout trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("flowcore: build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

var (
	iterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_iterations_total",
			Help: "Total evaluator iterations, by outcome",
		},
		[]string{"outcome"},
	)
	stepsAdvancedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowcore_steps_advanced_total",
			Help: "Total recorded transitions: step advances and task completions/failures",
		},
	)
	evaluatorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_evaluator_errors_total",
			Help: "Total evaluator iteration errors",
		},
		[]string{"reason"},
	)
	versionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowcore_commit_version_retries_total",
			Help: "Total commit retries triggered by a version mismatch",
		},
	)
)

// OTelSink records one span per evaluator iteration and increments the
// engine's Prometheus counters, mirroring the shape of the teacher's
// MetricsCollector without carrying over its broader workflow/LLM
// instrumentation surface (out of scope here).
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink wraps tracer, which callers obtain from their configured
// TracerProvider (for example otel.Tracer("flowcore/evaluator")).
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

func (s *OTelSink) RecordTransition(t Transition) {
	stepsAdvancedTotal.Inc()
	_, span := s.tracer.Start(context.Background(), "step.transition")
	span.SetAttributes(
		attribute.String("workflow_id", string(t.WorkflowID)),
		attribute.String("step_id", t.StepID),
		attribute.String("object_type", t.ObjectType),
		attribute.String("from_state", t.FromState),
		attribute.String("to_state", t.ToState),
		attribute.Int("iteration", t.Iteration),
	)
	span.End()
}

func (s *OTelSink) RecordIteration(r IterationResult) {
	outcome := "ok"
	if r.Err != nil {
		outcome = "error"
		evaluatorErrorsTotal.WithLabelValues(classifyErr(r.Err)).Inc()
	}
	iterationsTotal.WithLabelValues(outcome).Inc()
	for i := 0; i < r.VersionRetries; i++ {
		versionRetriesTotal.Inc()
	}

	_, span := s.tracer.Start(context.Background(), "evaluator.iteration")
	span.SetAttributes(
		attribute.String("workflow_id", string(r.WorkflowID)),
		attribute.Int("iteration", r.Iteration),
		attribute.Int("steps_advanced", r.StepsAdvanced),
		attribute.Int("steps_created", r.StepsCreated),
		attribute.Int("version_retries", r.VersionRetries),
	)
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
	}
	span.End()
}

func classifyErr(err error) string {
	if k := ferrors.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}

var _ Sink = (*OTelSink)(nil)
