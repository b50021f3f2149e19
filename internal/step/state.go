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

// Package step defines the durable step record, the discriminant
// object types that select a transition table, and the three fixed
// state machine tables (spec.md §4.1, §4.2).
package step

// State is a value from the closed set of step lifecycle states.
type State string

const (
	Created                  State = "CREATED"
	FacetInitBegin            State = "FacetInitBegin"
	FacetInitEnd              State = "FacetInitEnd"
	MixinBlocksBegin          State = "MixinBlocksBegin"
	MixinBlocksEnd            State = "MixinBlocksEnd"
	StatementBlocksBegin      State = "StatementBlocksBegin"
	StatementBlocksEnd        State = "StatementBlocksEnd"
	StatementCaptureBegin     State = "StatementCaptureBegin"
	StatementCaptureEnd       State = "StatementCaptureEnd"
	StatementComplete         State = "StatementComplete"
	StatementError            State = "StatementError"
	EventTransmit             State = "EventTransmit"

	BlockInitBegin            State = "BlockInitBegin"
	BlockInitEnd              State = "BlockInitEnd"
	BlockExecutionBegin       State = "BlockExecutionBegin"
	BlockExecutionContinue    State = "BlockExecutionContinue"
	BlockExecutionEnd         State = "BlockExecutionEnd"
)

// ObjectType discriminates which transition table governs a step.
type ObjectType string

const (
	ObjectWorkflow             ObjectType = "Workflow"
	ObjectVariableAssignment   ObjectType = "VariableAssignment"
	ObjectYieldAssignment      ObjectType = "YieldAssignment"
	ObjectAndThen              ObjectType = "AndThen"
	ObjectAndMap               ObjectType = "AndMap"
	ObjectAndMatch             ObjectType = "AndMatch"
	ObjectBlock                ObjectType = "Block"
	ObjectForeach              ObjectType = "Foreach"
)

// Table is a total function on its domain: for every non-terminal
// state it names, Next gives the single successor state reached by an
// ordinary advancement. EventTransmit is a side-state reachable only
// from StatementCaptureBegin and exited only by an external mutation,
// so it is not part of the ordinary Next chain.
type Table struct {
	// Order lists every state in the table in traversal order,
	// Created first, terminal states last.
	Order []State
	// Next maps a state to the state reached by one ordinary
	// advancement. A state absent from Next is terminal.
	Next map[State]State
	// Terminal is the set of states with no further advancement.
	Terminal map[State]bool
}

func build(order []State) Table {
	next := make(map[State]State, len(order))
	terminal := make(map[State]bool, 2)
	for i, s := range order {
		if i+1 < len(order) {
			next[s] = order[i+1]
		}
	}
	terminal[StatementComplete] = true
	terminal[StatementError] = true
	return Table{Order: order, Next: next, Terminal: terminal}
}

// StepTable governs VariableAssignment and Workflow steps.
var StepTable = build([]State{
	Created,
	FacetInitBegin,
	FacetInitEnd,
	MixinBlocksBegin,
	MixinBlocksEnd,
	StatementBlocksBegin,
	StatementBlocksEnd,
	StatementCaptureBegin,
	StatementCaptureEnd,
	StatementComplete,
})

// BlockTable governs AndThen, AndMap, AndMatch, Block, and Foreach
// steps. BlockExecutionContinue is re-entered (via Next pointing back
// to itself in the evaluator's own logic, not in this table) while the
// block still has unresolved children; the table only records the
// eventual forward path to BlockExecutionEnd.
var BlockTable = build([]State{
	Created,
	BlockInitBegin,
	BlockInitEnd,
	BlockExecutionBegin,
	BlockExecutionContinue,
	BlockExecutionEnd,
	StatementComplete,
})

// YieldTable governs YieldAssignment steps: a pruned step table that
// skips the mixin and block phases.
var YieldTable = build([]State{
	Created,
	FacetInitBegin,
	FacetInitEnd,
	StatementCaptureBegin,
	StatementCaptureEnd,
	StatementComplete,
})

// TableFor selects the transition table governing a step of the given
// object type.
func TableFor(ot ObjectType) Table {
	switch ot {
	case ObjectVariableAssignment, ObjectWorkflow:
		return StepTable
	case ObjectYieldAssignment:
		return YieldTable
	case ObjectAndThen, ObjectAndMap, ObjectAndMatch, ObjectBlock, ObjectForeach:
		return BlockTable
	default:
		return StepTable
	}
}

// IsBlockType reports whether ot selects the block transition table.
func IsBlockType(ot ObjectType) bool {
	switch ot {
	case ObjectAndThen, ObjectAndMap, ObjectAndMatch, ObjectBlock, ObjectForeach:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is one of the two terminal states.
func IsTerminal(s State) bool {
	return s == StatementComplete || s == StatementError
}
