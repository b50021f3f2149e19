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

// Package telemetry defines the engine's Telemetry Hooks component: a
// Sink interface the evaluator reports every state transition and
// iteration to, decoupled from any particular backend the way the
// teacher's internal/tracing package decouples span creation from the
// OpenTelemetry SDK.
package telemetry

import "github.com/flowcore/runtime/pkg/ids"

// Transition describes a single object state change, emitted by the
// evaluator once per step advance in an iteration and by the scheduler
// when a task completes or fails.
type Transition struct {
	WorkflowID ids.WorkflowID
	StepID     string
	ObjectType string // the step's ObjectType (e.g. "VariableAssignment", "AndThen"), or "task"
	FromState  string
	ToState    string
	Iteration  int
}

// IterationResult summarizes one evaluator iteration.
type IterationResult struct {
	WorkflowID      ids.WorkflowID
	Iteration       int
	StepsAdvanced   int
	StepsCreated    int
	Err             error
	VersionRetries  int
}

// Sink receives telemetry events. Implementations must be safe for
// concurrent use; the evaluator may run many workflows' iterations
// concurrently across a worker pool.
type Sink interface {
	RecordTransition(Transition)
	RecordIteration(IterationResult)
}

// NopSink discards every event. It is the default when no sink is
// configured.
type NopSink struct{}

func (NopSink) RecordTransition(Transition)   {}
func (NopSink) RecordIteration(IterationResult) {}

var _ Sink = NopSink{}
