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

package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowcore/runtime/internal/dispatcher"
	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/telemetry"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

const defaultMaxRetries = 5

// Evaluator drives workflow instances to completion, pause, or
// failure by repeatedly running iterations against a persistence
// store, dispatching inline facet handlers along the way.
type Evaluator struct {
	store      store.Store
	dispatcher dispatcher.Dispatcher
	telemetry  telemetry.Sink
	logger     *slog.Logger
	maxRetries int
}

// Option configures an Evaluator at construction.
type Option func(*Evaluator)

// WithTelemetry attaches a telemetry sink; the default is telemetry.NopSink{}.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(e *Evaluator) { e.telemetry = sink }
}

// WithLogger attaches a structured logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMaxRetries overrides the bounded VersionMismatch retry count
// (spec.md §7, default 5).
func WithMaxRetries(n int) Option {
	return func(e *Evaluator) { e.maxRetries = n }
}

// New constructs an Evaluator backed by st for persistence and disp
// for handler dispatch.
func New(st store.Store, disp dispatcher.Dispatcher, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:      st,
		dispatcher: disp,
		telemetry:  telemetry.NopSink{},
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute materializes a new workflow instance for workflowName within
// program, creates its root step, and runs the iteration loop to
// completion, pause, or failure (spec.md §6).
func (e *Evaluator) Execute(ctx context.Context, program *ir.Program, workflowName string, inputs value.Map) (*ExecutionResult, error) {
	program = ir.Normalize(program)
	wfDecl := ir.FindWorkflow(program, workflowName)
	if wfDecl == nil {
		return nil, ferrors.Newf(ferrors.KindStepNotFound, "workflow not found: %s", workflowName)
	}

	idx := make(nodeIndex)
	buildIndex(wfDecl.Body, idx)

	wfID := ids.NewWorkflowID()
	root := step.New(wfID, step.ObjectWorkflow, ids.StatementID("__root__"), "", ids.StepID(""), ids.StepID(""), workflowName, step.IterationKey{})
	root.ID = ids.NewStepID()
	root.ContainerID = root.ID
	root.RootID = root.ID
	if inputs != nil {
		root.Params = inputs.Clone()
	}

	wf := &store.Workflow{
		ID:         wfID,
		Name:       workflowName,
		State:      store.WorkflowRunning,
		Inputs:     inputs,
		Outputs:    value.NewMap(),
		StartTime:  time.Now(),
		RootStepID: root.ID,
	}

	if err := e.store.Commit(ctx, &store.IterationChanges{
		WorkflowID:     wfID,
		CreatedSteps:   []*step.Step{root},
		WorkflowUpdate: wf,
	}); err != nil {
		return nil, err
	}

	return e.runLoop(ctx, wfID, program, wfDecl, idx)
}

// Resume reloads an existing workflow instance's steps and runs the
// iteration loop without creating a new root step (spec.md §4.5, §6).
func (e *Evaluator) Resume(ctx context.Context, workflowID ids.WorkflowID, program *ir.Program) (*ExecutionResult, error) {
	program = ir.Normalize(program)
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wfDecl := ir.FindWorkflow(program, wf.Name)
	if wfDecl == nil {
		return nil, ferrors.Newf(ferrors.KindStepNotFound, "workflow not found: %s", wf.Name)
	}
	idx := make(nodeIndex)
	buildIndex(wfDecl.Body, idx)

	return e.runLoop(ctx, workflowID, program, wfDecl, idx)
}

// ContinueStep is the external completion of a paused step (spec.md
// §4.5, §6): it populates the step's returns, advances it out of
// EventTransmit to StatementCaptureEnd, and commits directly (outside
// the iteration loop, since it is triggered by a handler return, not
// by an evaluator pass).
func (e *Evaluator) ContinueStep(ctx context.Context, stepID ids.StepID, returns value.Map) error {
	st, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if st.State != step.EventTransmit {
		return ferrors.New(ferrors.KindInvalidStepState, "continue_step requires a step in EventTransmit").WithStep(string(stepID))
	}
	expected := st.State
	for name, attr := range returns {
		st.SetReturn(name, attr.Value, attr.TypeHint)
	}
	st.ChangeState(step.StatementCaptureEnd)
	if err := st.Advance(); err != nil {
		return err
	}
	return e.store.Commit(ctx, &store.IterationChanges{
		WorkflowID:   st.WorkflowID,
		UpdatedSteps: []store.StepDelta{{Step: st, ExpectedState: expected}},
	})
}

// FailStep is the external failure of a paused step (spec.md §4.5,
// §6): it drives the step directly to StatementError, which the next
// iteration propagates upward to its container and, transitively, to
// the root.
func (e *Evaluator) FailStep(ctx context.Context, stepID ids.StepID, message string) error {
	st, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	expected := st.State
	st.MarkError(ferrors.New(ferrors.KindHandlerError, message).WithStep(string(stepID)))
	if err := st.Advance(); err != nil {
		return err
	}
	return e.store.Commit(ctx, &store.IterationChanges{
		WorkflowID:   st.WorkflowID,
		UpdatedSteps: []store.StepDelta{{Step: st, ExpectedState: expected}},
	})
}

// runLoop repeatedly runs iterations until the root step reaches a
// terminal state or an iteration signals pause without any step
// having advanced (spec.md §4.5 item 4).
func (e *Evaluator) runLoop(ctx context.Context, wfID ids.WorkflowID, program *ir.Program, wfDecl *ir.WorkflowDecl, idx nodeIndex) (*ExecutionResult, error) {
	for {
		outcome, err := e.runIterationWithRetry(ctx, wfID, program, wfDecl, idx)
		if err != nil {
			return nil, err
		}

		wf, err := e.store.GetWorkflow(ctx, wfID)
		if err != nil {
			return nil, err
		}

		root, err := e.store.GetWorkflowRoot(ctx, wfID)
		if err != nil {
			return nil, err
		}

		if root.IsTerminal() {
			return e.finalize(ctx, wf, root)
		}
		if outcome.paused && !outcome.advanced {
			e.telemetry.RecordIteration(telemetry.IterationResult{WorkflowID: wfID, Iteration: wf.Iterations})
			return &ExecutionResult{Status: StatusPaused, WorkflowID: wfID, Iterations: wf.Iterations}, nil
		}
		if !outcome.advanced && !outcome.paused {
			return &ExecutionResult{
				Status:     StatusError,
				WorkflowID: wfID,
				Iterations: wf.Iterations,
				Err:        ferrors.New(ferrors.KindDependencyNotSatisfied, "no step advanced and no pause was signaled"),
			}, nil
		}
	}
}

func (e *Evaluator) finalize(ctx context.Context, wf *store.Workflow, root *step.Step) (*ExecutionResult, error) {
	now := time.Now()
	if root.IsComplete() {
		wf.State = store.WorkflowCompleted
		wf.Outputs = root.Returns
		wf.EndTime = &now
		if err := e.store.SaveWorkflow(ctx, wf); err != nil {
			return nil, err
		}
		return &ExecutionResult{
			Status:     StatusCompleted,
			WorkflowID: wf.ID,
			Outputs:    root.Returns,
			Iterations: wf.Iterations,
		}, nil
	}

	wf.State = store.WorkflowFailed
	wf.EndTime = &now
	if err := e.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	fe := rootCause(root.Transition.Error)
	if fe == nil {
		fe = ferrors.New(ferrors.KindEvaluationError, "workflow failed").WithStep(string(root.ID))
	}
	return &ExecutionResult{
		Status:     StatusError,
		WorkflowID: wf.ID,
		Iterations: wf.Iterations,
		Err:        fe,
	}, nil
}

// rootCause walks err's wrap chain to the innermost *ferrors.Error, so
// a failure surfaced at the root step carries the originating
// handler's own message rather than an intermediate container's
// generic "block child failed" wrapper.
func rootCause(err error) *ferrors.Error {
	var deepest *ferrors.Error
	for {
		var fe *ferrors.Error
		if !errors.As(err, &fe) {
			return deepest
		}
		deepest = fe
		if fe.Err == nil {
			return deepest
		}
		err = fe.Err
	}
}
