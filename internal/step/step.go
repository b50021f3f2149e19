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
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

// IterationKey disambiguates multiple materializations of the same
// (statement_id, block_id) pair, used by foreach children.
type IterationKey struct {
	Index int `json:"index"`
	// Present distinguishes "no iteration key" (the zero value, for
	// non-foreach steps) from index 0 of a foreach.
	Present bool `json:"present"`
}

// Transition is the ephemeral, non-durable control block the
// evaluator uses to track provenance of a pending state change. It is
// never persisted directly: only the resulting State field survives a
// commit.
type Transition struct {
	OriginalState     State
	CurrentState      State
	RequestTransition bool
	Changed           bool
	PushMe            bool
	Error             error
}

// Step is the durable unit of execution: the central entity of the
// data model (spec.md §3).
type Step struct {
	ID          ids.StepID     `json:"id"`
	WorkflowID  ids.WorkflowID `json:"workflow_id"`
	RootID      ids.StepID     `json:"root_id"`
	ContainerID ids.StepID     `json:"container_id"`

	ObjectType  ObjectType         `json:"object_type"`
	StatementID ids.StatementID    `json:"statement_id"`
	BlockID     string             `json:"block_id"`
	State       State              `json:"state"`
	FacetName   string             `json:"facet_name,omitempty"`

	Params  value.Map `json:"params"`
	Returns value.Map `json:"returns"`

	IterationKey IterationKey `json:"iteration_key,omitempty"`

	// Transition is ephemeral; JSON-tagged "-" so stores never persist
	// it directly.
	Transition Transition `json:"-"`
}

// Key is the idempotency key: (statement_id, block_id, iteration_key)
// uniquely identifies a step under its container.
type Key struct {
	StatementID ids.StatementID
	BlockID     string
	Iteration   IterationKey
}

// Key returns this step's idempotency key.
func (s *Step) Key() Key {
	return Key{StatementID: s.StatementID, BlockID: s.BlockID, Iteration: s.IterationKey}
}

// New constructs a new step in state CREATED with empty attributes
// and a fresh transition block.
func New(workflowID ids.WorkflowID, ot ObjectType, statementID ids.StatementID, blockID string, containerID, rootID ids.StepID, facetName string, iterKey IterationKey) *Step {
	s := &Step{
		ID:           ids.NewStepID(),
		WorkflowID:   workflowID,
		RootID:       rootID,
		ContainerID:  containerID,
		ObjectType:   ot,
		StatementID:  statementID,
		BlockID:      blockID,
		State:        Created,
		FacetName:    facetName,
		Params:       value.NewMap(),
		Returns:      value.NewMap(),
		IterationKey: iterKey,
	}
	s.Transition = Transition{OriginalState: Created, CurrentState: Created}
	return s
}

// ChangeState requests a transition to s in the next iteration. Direct
// assignment of the State field is forbidden elsewhere in the engine
// so this function (and MarkComplete/MarkError) remain the sole
// provenance-tracked entry points, per spec.md §4.2.
func (st *Step) ChangeState(s State) {
	st.Transition.CurrentState = s
	st.Transition.Changed = true
	st.Transition.RequestTransition = true
}

// MarkComplete explicitly drives the step to its terminal success
// state.
func (st *Step) MarkComplete() {
	st.ChangeState(StatementComplete)
}

// MarkError explicitly drives the step to its terminal error state,
// recording the causing error on the transition block.
func (st *Step) MarkError(err error) {
	st.Transition.Error = err
	st.ChangeState(StatementError)
}

// SetParam stores an input attribute.
func (st *Step) SetParam(name string, val any, typeHint string) {
	if st.Params == nil {
		st.Params = value.NewMap()
	}
	st.Params.Set(name, val, typeHint)
}

// SetReturn stores an output attribute.
func (st *Step) SetReturn(name string, val any, typeHint string) {
	if st.Returns == nil {
		st.Returns = value.NewMap()
	}
	st.Returns.Set(name, val, typeHint)
}

// GetParam retrieves an input attribute.
func (st *Step) GetParam(name string) (any, bool) {
	return st.Params.Get(name)
}

// GetReturn retrieves an output attribute.
func (st *Step) GetReturn(name string) (any, bool) {
	return st.Returns.Get(name)
}

// IsBlock reports whether this step's object type selects the block
// transition table.
func (st *Step) IsBlock() bool {
	return IsBlockType(st.ObjectType)
}

// IsComplete reports whether the step is in the terminal success
// state.
func (st *Step) IsComplete() bool {
	return st.State == StatementComplete
}

// IsError reports whether the step is in the terminal error state.
func (st *Step) IsError() bool {
	return st.State == StatementError
}

// IsTerminal reports whether the step is in either terminal state.
func (st *Step) IsTerminal() bool {
	return IsTerminal(st.State)
}

// Clone returns a deep copy of the step, used when persisting a
// read-modify-write cycle so concurrent callers never alias mutable
// state.
func (st *Step) Clone() *Step {
	cp := *st
	cp.Params = st.Params.Clone()
	cp.Returns = st.Returns.Clone()
	return &cp
}

// Advance commits the step's requested transition (Transition.CurrentState)
// into the durable State field, validating that the move is a legal
// single step in the table's Next chain, lands on EventTransmit (the
// one side-state), or is StatementError, which is accepted from any
// state. It returns ferrors.KindInvalidTransition for any other
// requested state that does not follow the table's Next mapping from
// the step's current durable State.
func (st *Step) Advance() error {
	if !st.Transition.RequestTransition {
		return nil
	}
	table := TableFor(st.ObjectType)
	want := st.Transition.CurrentState

	if want == EventTransmit {
		if st.State != StatementCaptureBegin {
			return ferrors.New(ferrors.KindInvalidTransition,
				"EventTransmit may only be entered from StatementCaptureBegin").WithStep(string(st.ID))
		}
		st.State = EventTransmit
		st.Transition.RequestTransition = false
		return nil
	}
	if st.State == EventTransmit {
		// Exiting EventTransmit is only valid via continue_step (->
		// StatementCaptureEnd) or fail_step (-> StatementError); both
		// call ChangeState directly and are accepted here.
		if want != StatementCaptureEnd && want != StatementError {
			return ferrors.New(ferrors.KindInvalidTransition,
				"EventTransmit may only exit to StatementCaptureEnd or StatementError").WithStep(string(st.ID))
		}
		st.State = want
		st.Transition.RequestTransition = false
		return nil
	}
	if want == StatementError {
		st.State = StatementError
		st.Transition.RequestTransition = false
		return nil
	}

	next, ok := table.Next[st.State]
	if !ok || next != want {
		return ferrors.New(ferrors.KindInvalidTransition,
			"committed state does not match the table's next-state for the committed prior state").WithStep(string(st.ID))
	}
	st.State = want
	st.Transition.RequestTransition = false
	return nil
}
