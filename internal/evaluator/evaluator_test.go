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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/internal/dispatcher"
	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store/memstore"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

func inputRef(path ...string) ir.Expr { return &ir.InputRef{Path: path} }
func stepRef(path ...string) ir.Expr  { return &ir.StepRef{Path: path} }

// Scenario 1 (spec.md §8): a sequential chain TestOne(input=1) -> output=4,
// each step doubling the previous step's output.
func TestExecute_SequentialChain(t *testing.T) {
	ctx := context.Background()
	disp := dispatcher.NewInMemory()
	disp.Register("Double", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		in, _ := value.AsInt64(payload["input"])
		return map[string]any{"output": in * 2}, nil
	})

	program := &ir.Program{Declarations: []ir.Declaration{
		&ir.FacetDecl{Name: "Double"},
		&ir.WorkflowDecl{
			Name: "TestOne",
			Body: &ir.AndThenBlock{
				ID: "wf.body",
				Stmts: []ir.Statement{
					&ir.StepStmt{ID: "a", Name: "a", Facet: "Double", Args: []ir.NamedArg{{Name: "input", Value: inputRef("input")}}},
					&ir.StepStmt{ID: "b", Name: "b", Facet: "Double", Args: []ir.NamedArg{{Name: "input", Value: stepRef("a", "output")}}},
				},
				Yield: &ir.YieldStmt{ID: "wf.yield", Target: "output", Args: []ir.NamedArg{{Name: "output", Value: stepRef("b", "output")}}},
			},
		},
	}}

	st := memstore.New()
	eval := New(st, disp)
	inputs := value.NewMap()
	inputs.Set("input", int64(1), "Long")

	result, err := eval.Execute(ctx, program, "TestOne", inputs)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	out, ok := result.Outputs.Get("output")
	require.True(t, ok)
	assert.Equal(t, int64(4), out)
}

// Scenario 2 (spec.md §8): a parallel fan-in TestTwo with independent
// steps a/b feeding a third step c, yielding output=13.
func TestExecute_ParallelFanIn(t *testing.T) {
	ctx := context.Background()
	disp := dispatcher.NewInMemory()
	disp.Register("One", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"value": int64(5)}, nil
	})
	disp.Register("Two", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"value": int64(8)}, nil
	})
	disp.Register("Sum", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		x, _ := value.AsInt64(payload["x"])
		y, _ := value.AsInt64(payload["y"])
		return map[string]any{"sum": x + y}, nil
	})

	program := &ir.Program{Declarations: []ir.Declaration{
		&ir.FacetDecl{Name: "One"},
		&ir.FacetDecl{Name: "Two"},
		&ir.FacetDecl{Name: "Sum"},
		&ir.WorkflowDecl{
			Name: "TestTwo",
			Body: &ir.AndThenBlock{
				ID: "wf.body",
				Stmts: []ir.Statement{
					&ir.StepStmt{ID: "a", Name: "a", Facet: "One"},
					&ir.StepStmt{ID: "b", Name: "b", Facet: "Two"},
					&ir.StepStmt{ID: "c", Name: "c", Facet: "Sum", Args: []ir.NamedArg{
						{Name: "x", Value: stepRef("a", "value")},
						{Name: "y", Value: stepRef("b", "value")},
					}},
				},
				Yield: &ir.YieldStmt{ID: "wf.yield", Target: "output", Args: []ir.NamedArg{{Name: "output", Value: stepRef("c", "sum")}}},
			},
		},
	}}

	st := memstore.New()
	eval := New(st, disp)
	result, err := eval.Execute(ctx, program, "TestTwo", value.NewMap())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	out, ok := result.Outputs.Get("output")
	require.True(t, ok)
	assert.Equal(t, int64(13), out)
}

func greetProgram() *ir.Program {
	return &ir.Program{Declarations: []ir.Declaration{
		&ir.EventFacetDecl{Name: "Greet"},
		&ir.WorkflowDecl{
			Name: "Greeting",
			Body: &ir.AndThenBlock{
				ID: "wf.body",
				Stmts: []ir.Statement{
					&ir.StepStmt{ID: "g", Name: "g", Facet: "Greet", Args: []ir.NamedArg{{Name: "name", Value: inputRef("name")}}},
				},
				Yield: &ir.YieldStmt{ID: "wf.yield", Target: "message", Args: []ir.NamedArg{{Name: "message", Value: stepRef("g", "message")}}},
			},
		},
	}}
}

// Scenario 3 (spec.md §8): an event facet pauses the workflow with no
// dispatcher registered for it; continue_step plus resume then
// completes it.
func TestExecute_EventFacetPausesThenResumes(t *testing.T) {
	ctx := context.Background()
	disp := dispatcher.NewInMemory() // deliberately no "Greet" handler
	program := greetProgram()

	st := memstore.New()
	eval := New(st, disp)
	inputs := value.NewMap()
	inputs.Set("name", "ada", "")

	result, err := eval.Execute(ctx, program, "Greeting", inputs)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, result.Status)

	steps, err := st.GetStepsByWorkflow(ctx, result.WorkflowID)
	require.NoError(t, err)
	var paused *step.Step
	for _, s := range steps {
		if s.State == step.EventTransmit {
			paused = s
		}
	}
	require.NotNil(t, paused, "expected a step parked in EventTransmit")
	assert.Equal(t, "Greet", paused.FacetName)

	returns := value.NewMap()
	returns.Set("message", "hello, ada", "")
	require.NoError(t, eval.ContinueStep(ctx, paused.ID, returns))

	result, err = eval.Resume(ctx, result.WorkflowID, program)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	out, ok := result.Outputs.Get("message")
	require.True(t, ok)
	assert.Equal(t, "hello, ada", out)
}

// Scenario 6 (spec.md §8): a handler failure propagates up through its
// container to the root, carrying the original error text.
func TestExecute_HandlerFailurePropagatesToRoot(t *testing.T) {
	ctx := context.Background()
	disp := dispatcher.NewInMemory()
	disp.Register("Explode", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, ferrors.New(ferrors.KindHandlerError, "boom: sample rejected")
	})

	program := &ir.Program{Declarations: []ir.Declaration{
		&ir.FacetDecl{Name: "Explode"},
		&ir.WorkflowDecl{
			Name: "Failing",
			Body: &ir.AndThenBlock{
				ID: "wf.body",
				Stmts: []ir.Statement{
					&ir.StepStmt{ID: "a", Name: "a", Facet: "Explode"},
				},
			},
		},
	}}

	st := memstore.New()
	eval := New(st, disp)
	result, err := eval.Execute(ctx, program, "Failing", value.NewMap())
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)
	require.NotNil(t, result.Err)
	assert.Contains(t, result.Err.Message, "boom: sample rejected")
}

// Scenario 4 (spec.md §8): a foreach fan-out over four samples, each
// running three sequential event facets, requires exactly twelve
// continue_step calls (4 samples x 3 stages) to drain.
func TestExecute_ForeachFanOutDrainsWithTwelveContinueSteps(t *testing.T) {
	ctx := context.Background()
	disp := dispatcher.NewInMemory() // every stage is an event facet

	program := &ir.Program{Declarations: []ir.Declaration{
		&ir.EventFacetDecl{Name: "QC"},
		&ir.EventFacetDecl{Name: "Align"},
		&ir.EventFacetDecl{Name: "Call"},
		&ir.WorkflowDecl{
			Name: "Pipeline",
			Body: &ir.AndThenBlock{
				ID: "wf.body",
				Stmts: []ir.Statement{
					&ir.ForeachClause{
						ID: "fe", Var: "sample", In: inputRef("samples"),
						Body: &ir.AndThenBlock{
							ID: "fe.body",
							Stmts: []ir.Statement{
								&ir.StepStmt{ID: "qc", Name: "qc", Facet: "QC", Args: []ir.NamedArg{{Name: "sample", Value: inputRef("sample")}}},
								&ir.StepStmt{ID: "align", Name: "align", Facet: "Align", Args: []ir.NamedArg{{Name: "qc_result", Value: stepRef("qc", "result")}}},
								&ir.StepStmt{ID: "call", Name: "call", Facet: "Call", Args: []ir.NamedArg{{Name: "align_result", Value: stepRef("align", "result")}}},
							},
						},
					},
				},
			},
		},
	}}

	st := memstore.New()
	eval := New(st, disp)
	inputs := value.NewMap()
	inputs.Set("samples", []any{"s1", "s2", "s3", "s4"}, "")

	result, err := eval.Execute(ctx, program, "Pipeline", inputs)
	require.NoError(t, err)

	continueCount := 0
	for result.Status == StatusPaused {
		steps, err := st.GetStepsByWorkflow(ctx, result.WorkflowID)
		require.NoError(t, err)

		advanced := false
		for _, s := range steps {
			if s.State != step.EventTransmit {
				continue
			}
			returns := value.NewMap()
			returns.Set("result", s.FacetName+"-ok", "")
			require.NoError(t, eval.ContinueStep(ctx, s.ID, returns))
			continueCount++
			advanced = true
		}
		require.True(t, advanced, "expected at least one paused step to drain each round")

		result, err = eval.Resume(ctx, result.WorkflowID, program)
		require.NoError(t, err)
	}

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 12, continueCount)
}
