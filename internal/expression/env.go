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

// Package expression implements the pure reduction of reference,
// arithmetic, and collection expressions over workflow inputs and
// completed sibling step returns (spec.md §4.4). It is a hand-written
// recursive evaluator over the IR node tags pinned by spec.md §6,
// not expr-lang/expr: expr-lang parses free-form string source
// through its own grammar and has no entry point for a pre-parsed
// tagged node tree, so it cannot host this IR (see DESIGN.md).
package expression

// Env supplies the data a reduction needs: workflow input attributes,
// the returns of completed sibling steps (keyed by step name, each a
// plain map reachable by further path segments), and, inside a
// foreach body, the current loop-variable binding.
type Env struct {
	Inputs map[string]any
	Steps  map[string]map[string]any

	// LoopVar and LoopValue bind a foreach body's element variable, if
	// this env is for a foreach sub-block. LoopVar is empty outside a
	// foreach body.
	LoopVar   string
	LoopValue any
}

// WithLoopVar returns a copy of env with a foreach loop-variable
// binding added, used when constructing the env for one foreach
// sub-block iteration.
func (e Env) WithLoopVar(name string, val any) Env {
	cp := e
	cp.LoopVar = name
	cp.LoopValue = val
	return cp
}
