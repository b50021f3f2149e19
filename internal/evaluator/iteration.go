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
	"fmt"

	"github.com/flowcore/runtime/internal/depgraph"
	"github.com/flowcore/runtime/internal/expression"
	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/telemetry"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

// iterationOutcome summarizes one pass over a workflow's live steps:
// whether any step's durable state changed, and whether any step is
// (still, or newly) parked in EventTransmit awaiting an external
// continue_step/fail_step.
type iterationOutcome struct {
	advanced bool
	paused   bool
}

// pass bundles the read-only context a single iteration needs so it
// doesn't thread five parameters through every helper.
type pass struct {
	program *ir.Program
	wfDecl  *ir.WorkflowDecl
	idx     nodeIndex
	wf      *store.Workflow

	steps      map[ids.StepID]*step.Step
	byStmt     map[string][]*step.Step // ContainerID+"/"+StatementID -> steps (foreach: many; else: one)
	byContainer map[ids.StepID][]*step.Step

	changes *store.IterationChanges
}

func containerStmtKey(containerID ids.StepID, statementID string) string {
	return string(containerID) + "/" + statementID
}

// runIterationWithRetry runs one evaluator pass, retrying the whole
// pass (reloading fresh step state) on a version_mismatch commit
// failure up to maxRetries times (spec.md §7).
func (e *Evaluator) runIterationWithRetry(ctx context.Context, wfID ids.WorkflowID, program *ir.Program, wfDecl *ir.WorkflowDecl, idx nodeIndex) (iterationOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		outcome, err := e.runIteration(ctx, wfID, program, wfDecl, idx)
		if err == nil {
			return outcome, nil
		}
		if ferrors.KindOf(err) != ferrors.KindVersionMismatch {
			return iterationOutcome{}, err
		}
		lastErr = err
	}
	return iterationOutcome{}, ferrors.Wrap(lastErr, ferrors.KindVersionMismatch, "exceeded retry budget on version_mismatch")
}

func (e *Evaluator) runIteration(ctx context.Context, wfID ids.WorkflowID, program *ir.Program, wfDecl *ir.WorkflowDecl, idx nodeIndex) (iterationOutcome, error) {
	wf, err := e.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return iterationOutcome{}, err
	}
	all, err := e.store.GetStepsByWorkflow(ctx, wfID)
	if err != nil {
		return iterationOutcome{}, err
	}

	p := &pass{
		program:     program,
		wfDecl:      wfDecl,
		idx:         idx,
		wf:          wf,
		steps:       make(map[ids.StepID]*step.Step, len(all)),
		byStmt:      make(map[string][]*step.Step, len(all)),
		byContainer: make(map[ids.StepID][]*step.Step, len(all)),
		changes:     &store.IterationChanges{WorkflowID: wfID},
	}
	for _, s := range all {
		p.steps[s.ID] = s
		p.byContainer[s.ContainerID] = append(p.byContainer[s.ContainerID], s)
		p.byStmt[containerStmtKey(s.ContainerID, string(s.StatementID))] = append(p.byStmt[containerStmtKey(s.ContainerID, string(s.StatementID))], s)
	}

	outcome := iterationOutcome{}
	for _, s := range all {
		if s.IsTerminal() {
			continue
		}
		if s.State == step.EventTransmit {
			outcome.paused = true
			continue
		}
		expected := s.State
		before := s.State
		if err := e.advanceStep(p, s); err != nil {
			s.MarkError(err)
		}
		if err := s.Advance(); err != nil {
			// advanceStep queued a transition the table rejects (a
			// bug in a block/leaf handler) — fail the step instead of
			// silently dropping the pass.
			s.MarkError(err)
			_ = s.Advance()
		}
		if s.State != before {
			outcome.advanced = true
			p.changes.UpdatedSteps = append(p.changes.UpdatedSteps, store.StepDelta{Step: s, ExpectedState: expected})
			e.telemetry.RecordTransition(telemetry.Transition{
				WorkflowID: wfID, StepID: s.ID, ObjectType: string(s.ObjectType),
				FromState: string(before), ToState: string(s.State), Iteration: wf.Iterations,
			})
			if s.State == step.EventTransmit {
				outcome.paused = true
			}
		}
	}

	if len(p.changes.CreatedSteps) > 0 {
		// A block step can materialize new children while its own
		// state stays at BlockExecutionContinue (the table's re-entrant
		// state); that is still forward progress.
		outcome.advanced = true
	}

	wf.Iterations++
	p.changes.WorkflowUpdate = wf
	if err := e.store.Commit(ctx, p.changes); err != nil {
		e.telemetry.RecordIteration(telemetry.IterationResult{WorkflowID: wfID, Iteration: wf.Iterations, Err: err})
		return iterationOutcome{}, err
	}
	e.telemetry.RecordIteration(telemetry.IterationResult{
		WorkflowID: wfID, Iteration: wf.Iterations,
		StepsAdvanced: len(p.changes.UpdatedSteps), StepsCreated: len(p.changes.CreatedSteps),
	})
	return outcome, nil
}

// advanceStep requests at most one state transition on s (via
// s.ChangeState), materializing whatever child steps/tasks that
// transition implies. It never calls s.Advance itself; the caller
// commits the requested transition uniformly for every object type.
func (e *Evaluator) advanceStep(p *pass, s *step.Step) error {
	if s.IsBlock() {
		return e.advanceBlock(p, s)
	}
	return e.advanceLeaf(p, s)
}

// advanceLeaf drives a VariableAssignment, Workflow, or
// YieldAssignment step through the leaf step table.
func (e *Evaluator) advanceLeaf(p *pass, s *step.Step) error {
	switch s.State {
	case step.Created:
		s.ChangeState(step.FacetInitBegin)
	case step.FacetInitBegin:
		s.ChangeState(step.FacetInitEnd)
	case step.FacetInitEnd:
		if s.ObjectType == step.ObjectYieldAssignment {
			// YieldTable skips the mixin/block phases entirely.
			s.ChangeState(step.StatementCaptureBegin)
			return nil
		}
		s.ChangeState(step.MixinBlocksBegin)
	case step.MixinBlocksBegin:
		s.ChangeState(step.MixinBlocksEnd)
	case step.MixinBlocksEnd:
		s.ChangeState(step.StatementBlocksBegin)
	case step.StatementBlocksBegin:
		return e.enterStatementBlocks(p, s)
	case step.StatementBlocksEnd:
		s.ChangeState(step.StatementCaptureBegin)
	case step.StatementCaptureBegin:
		return e.dispatchCapture(p, s)
	case step.StatementCaptureEnd:
		s.ChangeState(step.StatementComplete)
	}
	return nil
}

// enterStatementBlocks materializes the root workflow's single body
// block the first time the root reaches StatementBlocksBegin, then
// waits on it; plain VariableAssignment steps have no nested body and
// pass straight through.
func (e *Evaluator) enterStatementBlocks(p *pass, s *step.Step) error {
	if s.ObjectType != step.ObjectWorkflow {
		s.ChangeState(step.StatementBlocksEnd)
		return nil
	}

	children := p.byStmt[containerStmtKey(s.ID, p.wfDecl.Body.ID)]
	if len(children) == 0 {
		block := step.New(p.wf.ID, step.ObjectBlock, ids.StatementID(p.wfDecl.Body.ID), "", s.ID, s.RootID, fmt.Sprintf("%s.body", p.wfDecl.Name), step.IterationKey{})
		p.changes.CreatedSteps = append(p.changes.CreatedSteps, block)
		return nil
	}

	body := children[0]
	if !body.IsTerminal() {
		return nil
	}
	if body.IsError() {
		return wrapChildError(body.Transition.Error, "workflow body failed", s.ID)
	}
	s.Returns = body.Returns.Clone()
	s.ChangeState(step.StatementBlocksEnd)
	return nil
}

// dispatchCapture runs the inline-or-event dispatch decision for a
// StatementCaptureBegin leaf step: an event facet creates a task and
// parks the step in EventTransmit; an inline facet runs synchronously
// and lands directly on StatementCaptureEnd.
func (e *Evaluator) dispatchCapture(p *pass, s *step.Step) error {
	if s.ObjectType == step.ObjectYieldAssignment {
		// A yield's "returns" are simply its reduced args, already
		// computed into Params at materialization time.
		s.Returns = s.Params.Clone()
		s.ChangeState(step.StatementCaptureEnd)
		return nil
	}

	decl, isEvent := ir.FindFacet(p.program, s.FacetName)
	if decl == nil {
		return ferrors.Newf(ferrors.KindStepNotFound, "unknown facet: %s", s.FacetName)
	}

	if isEvent {
		task := &store.Task{
			ID:         ids.NewTaskID(),
			Name:       s.FacetName,
			StepID:     s.ID,
			WorkflowID: p.wf.ID,
			TaskList:   "default",
			Data:       s.Params.Clone(),
			State:      store.TaskPending,
		}
		p.changes.CreatedTasks = append(p.changes.CreatedTasks, task)
		s.ChangeState(step.EventTransmit)
		return nil
	}

	out, err := e.dispatcher.Dispatch(context.Background(), s.FacetName, s.Params)
	if err != nil {
		return err
	}
	s.Returns = out
	s.ChangeState(step.StatementCaptureEnd)
	return nil
}

// advanceBlock drives an AndThen/AndMap/AndMatch/Block/Foreach step
// through the block table, materializing children as the
// dependency graph admits them.
func (e *Evaluator) advanceBlock(p *pass, s *step.Step) error {
	switch s.State {
	case step.Created:
		s.ChangeState(step.BlockInitBegin)
	case step.BlockInitBegin:
		s.ChangeState(step.BlockInitEnd)
	case step.BlockInitEnd:
		s.ChangeState(step.BlockExecutionBegin)
	case step.BlockExecutionBegin:
		// BlockExecutionContinue is the table's only forward state from
		// here; all materialization work happens once there; staying in
		// BlockExecutionContinue across passes requests no transition at
		// all; see runBlockBody.
		s.ChangeState(step.BlockExecutionContinue)
	case step.BlockExecutionContinue:
		return e.runBlockBody(p, s)
	case step.BlockExecutionEnd:
		s.ChangeState(step.StatementComplete)
	}
	return nil
}

// blockFor resolves the AndThenBlock a Block-type step executes. The
// root workflow's body block, a foreach clause's body, and an and_map
// or and_match case body are all registered in idx by statement or
// block id, so a single lookup covers every Block-type step.
func (p *pass) blockFor(s *step.Step) *ir.AndThenBlock {
	node, ok := p.idx[string(s.StatementID)]
	if !ok {
		return nil
	}
	switch n := node.(type) {
	case *ir.ForeachClause:
		return n.Body
	case *ir.AndThenBlock:
		return n
	}
	return nil
}

func (e *Evaluator) runBlockBody(p *pass, s *step.Step) error {
	block := p.blockFor(s)
	if block == nil {
		return ferrors.Newf(ferrors.KindBlockNotFound, "no block resolves for statement %s", s.StatementID)
	}

	children := p.byContainer[s.ID]
	for _, c := range children {
		if c.IsError() {
			return wrapChildError(c.Transition.Error, "block child failed", s.ID)
		}
	}

	env := buildEnv(p.wf.Inputs, s, children)

	switch {
	case block.Kind == ir.BlockAndMap && block.Map != nil:
		return e.runAndMap(p, s, block, children, env)
	case block.Kind == ir.BlockAndMatch && block.Match != nil:
		return e.runAndMatch(p, s, block, children, env)
	default:
		return e.runStmts(p, s, block, children, env)
	}
}

func (e *Evaluator) runStmts(p *pass, s *step.Step, block *ir.AndThenBlock, children []*step.Step, env expression.Env) error {
	graph := depgraph.Build(block.Stmts)
	completed := make(map[string]bool, len(block.Stmts))
	materialized := make(map[string]bool, len(block.Stmts))

	for _, stmt := range block.Stmts {
		switch st := stmt.(type) {
		case *ir.StepStmt:
			group := p.byStmt[containerStmtKey(s.ID, st.ID)]
			if len(group) > 0 {
				materialized[st.ID] = true
				completed[st.ID] = group[0].IsComplete()
				if group[0].IsComplete() {
					env.Steps[st.Name] = group[0].Returns.ToPlain()
				}
			}
		case *ir.ForeachClause:
			group := p.byStmt[containerStmtKey(s.ID, st.ID)]
			if len(group) > 0 {
				materialized[st.ID] = true
				allDone := true
				for _, c := range group {
					if !c.IsComplete() {
						allDone = false
						break
					}
				}
				completed[st.ID] = allDone
			}
		}
	}

	ready := graph.GetReady(completed, materialized)
	allMaterialized := len(materialized) == len(block.Stmts)

	if len(ready) > 0 {
		for _, id := range ready {
			stmt := p.idx[id]
			switch st := stmt.(type) {
			case *ir.StepStmt:
				child, err := materializeStepStmt(p.wf.ID, st, block.ID, s.ID, s.RootID, env)
				if err != nil {
					return err
				}
				p.changes.CreatedSteps = append(p.changes.CreatedSteps, child)
			case *ir.ForeachClause:
				created, err := materializeForeach(p.wf.ID, st, block.ID, s.ID, s.RootID, env)
				if err != nil {
					return err
				}
				p.changes.CreatedSteps = append(p.changes.CreatedSteps, created...)
			}
		}
		return nil
	}

	if !allMaterialized {
		// Nothing is ready yet but the block isn't done; stay put this
		// pass (e.g. waiting on an in-flight event facet).
		return nil
	}

	allComplete := true
	for _, v := range completed {
		if !v {
			allComplete = false
			break
		}
	}
	if !allComplete {
		return nil
	}

	if block.Yield != nil {
		yieldChildren := p.byStmt[containerStmtKey(s.ID, block.Yield.ID)]
		if len(yieldChildren) == 0 {
			yield, err := materializeYield(p.wf.ID, block.Yield, block.ID, s.ID, s.RootID, env)
			if err != nil {
				return err
			}
			p.changes.CreatedSteps = append(p.changes.CreatedSteps, yield)
			return nil
		}
		yieldStep := yieldChildren[0]
		if !yieldStep.IsComplete() {
			if yieldStep.IsError() {
				return ferrors.New(ferrors.KindEvaluationError, "yield failed").WithStep(string(yieldStep.ID))
			}
			return nil
		}
		s.Returns = yieldStep.Returns.Clone()
	}

	s.ChangeState(step.BlockExecutionEnd)
	return nil
}

// runAndMap fans the block's Map.Body out once per element of Map.In,
// binding each element under the reserved loop name "it" (AndMapSpec
// carries no explicit variable name), then advances the block once
// every fan-out completes; the children's returns are not copied onto
// the block step. Resolved as an implementation decision
// recorded in DESIGN.md: the concrete end-to-end scenarios never
// exercise AndMap, so this mirrors Foreach's fan-out exactly.
func (e *Evaluator) runAndMap(p *pass, s *step.Step, block *ir.AndThenBlock, children []*step.Step, env expression.Env) error {
	const loopVar = "it"
	group := p.byContainer[s.ID]
	if len(group) == 0 {
		elems, err := expression.Reduce(block.Map.In, env)
		if err != nil {
			return err
		}
		arr, ok := elems.([]any)
		if !ok {
			return ferrors.Newf(ferrors.KindEvaluationError, "and_map input must be an array, got %s", value.TypeName(elems))
		}
		for i, el := range arr {
			child := step.New(p.wf.ID, step.ObjectAndMap, ids.StatementID(block.Map.Body.ID), block.ID, s.ID, s.RootID, fmt.Sprintf("%s[%d]", block.ID, i), step.IterationKey{Index: i, Present: true})
			bindLoopVar(child, loopVar, el)
			p.changes.CreatedSteps = append(p.changes.CreatedSteps, child)
		}
		return nil
	}

	allComplete := true
	for _, c := range group {
		if !c.IsComplete() {
			allComplete = false
			break
		}
	}
	if !allComplete {
		return nil
	}
	s.ChangeState(step.BlockExecutionEnd)
	return nil
}

// runAndMatch selects and materializes the first case whose Value
// equals On, and no others — the closed-world match semantics implied
// by spec.md §4 (resolved in DESIGN.md).
func (e *Evaluator) runAndMatch(p *pass, s *step.Step, block *ir.AndThenBlock, children []*step.Step, env expression.Env) error {
	group := p.byContainer[s.ID]
	if len(group) == 0 {
		on, err := expression.Reduce(block.Match.On, env)
		if err != nil {
			return err
		}
		for i, c := range block.Match.Cases {
			val, err := expression.Reduce(c.Value, env)
			if err != nil {
				return err
			}
			if !equalValues(on, val) {
				continue
			}
			child := step.New(p.wf.ID, step.ObjectAndMatch, ids.StatementID(c.Body.ID), block.ID, s.ID, s.RootID, fmt.Sprintf("%s.case[%d]", block.ID, i), step.IterationKey{})
			p.changes.CreatedSteps = append(p.changes.CreatedSteps, child)
			return nil
		}
		return ferrors.New(ferrors.KindEvaluationError, "and_match: no case matched").WithStep(string(s.ID))
	}

	if !group[0].IsComplete() {
		return nil
	}
	s.Returns = group[0].Returns.Clone()
	s.ChangeState(step.BlockExecutionEnd)
	return nil
}

// wrapChildError lifts a failed child's error up to its container,
// preserving the original cause in the chain (so the message a caller
// eventually sees at the root is the handler's own text, not just
// "block child failed") while still recording the container's own
// step id as the point of propagation.
func wrapChildError(cause error, message string, containerStep ids.StepID) error {
	if cause == nil {
		return ferrors.New(ferrors.KindEvaluationError, message).WithStep(string(containerStep))
	}
	return (&ferrors.Error{Kind: ferrors.KindEvaluationError, Message: message, Err: cause}).WithStep(string(containerStep))
}

func equalValues(a, b any) bool {
	if value.IsNumeric(a) && value.IsNumeric(b) {
		af, _ := value.AsFloat64(a)
		bf, _ := value.AsFloat64(b)
		return af == bf
	}
	return a == b
}

func materializeStepStmt(wfID ids.WorkflowID, st *ir.StepStmt, blockID string, containerID, rootID ids.StepID, env expression.Env) (*step.Step, error) {
	params, err := reduceArgs(st.Args, env)
	if err != nil {
		return nil, err
	}
	child := step.New(wfID, step.ObjectVariableAssignment, ids.StatementID(st.ID), blockID, containerID, rootID, st.Facet, step.IterationKey{})
	child.Params = params
	child.SetParam(reservedStepName, st.Name, "")
	return child, nil
}

// reservedStepName records the StepStmt's "as" binding name on the
// materialized step's own Params, separate from FacetName (which
// names the facet invoked for dispatch), so sibling env construction
// can key a step's returns by the name other statements reference it
// under.
const reservedStepName = "$stepName"

func materializeYield(wfID ids.WorkflowID, y *ir.YieldStmt, blockID string, containerID, rootID ids.StepID, env expression.Env) (*step.Step, error) {
	params, err := reduceArgs(y.Args, env)
	if err != nil {
		return nil, err
	}
	child := step.New(wfID, step.ObjectYieldAssignment, ids.StatementID(y.ID), blockID, containerID, rootID, y.Target, step.IterationKey{})
	child.Params = params
	return child, nil
}

func materializeForeach(wfID ids.WorkflowID, f *ir.ForeachClause, blockID string, containerID, rootID ids.StepID, env expression.Env) ([]*step.Step, error) {
	elems, err := expression.Reduce(f.In, env)
	if err != nil {
		return nil, err
	}
	arr, ok := elems.([]any)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindEvaluationError, "foreach input must be an array, got %s", value.TypeName(elems))
	}
	out := make([]*step.Step, 0, len(arr))
	for i, el := range arr {
		child := step.New(wfID, step.ObjectForeach, ids.StatementID(f.ID), blockID, containerID, rootID, fmt.Sprintf("%s[%d]", f.ID, i), step.IterationKey{Index: i, Present: true})
		bindLoopVar(child, f.Var, el)
		out = append(out, child)
	}
	return out, nil
}

func reduceArgs(args []ir.NamedArg, env expression.Env) (value.Map, error) {
	m := value.NewMap()
	for _, a := range args {
		v, err := expression.Reduce(a.Value, env)
		if err != nil {
			return nil, err
		}
		m.Set(a.Name, v, "")
	}
	return m, nil
}
