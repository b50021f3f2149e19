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

package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
)

func newTestStep(ot ObjectType) *Step {
	return New(ids.WorkflowID("wf-1"), ot, ids.StatementID("s1"), "block-1", ids.StepID("c1"), ids.StepID("root"), "Value", IterationKey{})
}

func TestNew_StartsInCreatedWithEmptyAttributes(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	assert.Equal(t, Created, s.State)
	assert.NotNil(t, s.Params)
	assert.NotNil(t, s.Returns)
	assert.False(t, s.IsTerminal())
}

func TestAdvance_WalksStepTableInOrder(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	order := []State{
		FacetInitBegin, FacetInitEnd, MixinBlocksBegin, MixinBlocksEnd,
		StatementBlocksBegin, StatementBlocksEnd, StatementCaptureBegin,
		StatementCaptureEnd, StatementComplete,
	}
	for _, want := range order {
		s.ChangeState(want)
		require.NoError(t, s.Advance())
		assert.Equal(t, want, s.State)
	}
	assert.True(t, s.IsComplete())
}

func TestAdvance_RejectsSkippedState(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.ChangeState(StatementComplete) // skips every intermediate state
	err := s.Advance()
	require.Error(t, err)
	assert.Equal(t, ferrors.KindInvalidTransition, ferrors.KindOf(err))
	assert.Equal(t, Created, s.State)
}

func TestAdvance_EventTransmitOnlyFromStatementCaptureBegin(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.ChangeState(EventTransmit)
	err := s.Advance()
	require.Error(t, err)
	assert.Equal(t, ferrors.KindInvalidTransition, ferrors.KindOf(err))

	s.State = StatementCaptureBegin
	s.ChangeState(EventTransmit)
	require.NoError(t, s.Advance())
	assert.Equal(t, EventTransmit, s.State)
}

func TestAdvance_EventTransmitExitsOnlyToCaptureEndOrError(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.State = EventTransmit

	s.ChangeState(FacetInitBegin)
	err := s.Advance()
	require.Error(t, err)
	assert.Equal(t, ferrors.KindInvalidTransition, ferrors.KindOf(err))

	s.ChangeState(StatementCaptureEnd)
	require.NoError(t, s.Advance())
	assert.Equal(t, StatementCaptureEnd, s.State)
}

func TestMarkError_IsAcceptedFromAnyNonTerminalState(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.ChangeState(FacetInitBegin)
	require.NoError(t, s.Advance())

	s.MarkError(ferrors.New(ferrors.KindHandlerError, "boom"))
	require.NoError(t, s.Advance())
	assert.True(t, s.IsError())
	assert.True(t, s.IsTerminal())
}

func TestYieldTable_SkipsMixinAndBlockPhases(t *testing.T) {
	s := newTestStep(ObjectYieldAssignment)
	order := []State{FacetInitBegin, FacetInitEnd, StatementCaptureBegin, StatementCaptureEnd, StatementComplete}
	for _, want := range order {
		s.ChangeState(want)
		require.NoError(t, s.Advance())
		assert.Equal(t, want, s.State)
	}
}

func TestBlockTable_Walk(t *testing.T) {
	s := newTestStep(ObjectForeach)
	assert.True(t, s.IsBlock())
	order := []State{BlockInitBegin, BlockInitEnd, BlockExecutionBegin, BlockExecutionContinue, BlockExecutionEnd, StatementComplete}
	for _, want := range order {
		s.ChangeState(want)
		require.NoError(t, s.Advance())
		assert.Equal(t, want, s.State)
	}
}

func TestParamAndReturnAccessors(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.SetParam("input", int64(3), "Long")
	v, ok := s.GetParam("input")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	s.SetReturn("output", int64(4), "Long")
	v, ok = s.GetReturn("output")
	require.True(t, ok)
	assert.Equal(t, int64(4), v)
}

func TestClone_DeepCopiesAttributeMaps(t *testing.T) {
	s := newTestStep(ObjectVariableAssignment)
	s.SetParam("input", int64(1), "")
	cp := s.Clone()
	cp.SetParam("input", int64(2), "")
	v, _ := s.GetParam("input")
	assert.Equal(t, int64(1), v)
}

func TestKey_IdentifiesContainerScopedIdempotency(t *testing.T) {
	a := newTestStep(ObjectVariableAssignment)
	b := newTestStep(ObjectVariableAssignment)
	assert.Equal(t, a.Key(), b.Key())

	b.IterationKey = IterationKey{Index: 1, Present: true}
	assert.NotEqual(t, a.Key(), b.Key())
}
