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

// Package depgraph builds the per-block dependency graph the
// evaluator uses to decide which statements are ready to materialize
// (spec.md §4.3).
package depgraph

import (
	"sort"

	"github.com/flowcore/runtime/pkg/ir"
)

// Graph records, for each statement in a block, the set of siblings it
// depends on: the first path segment of every StepRef it contains.
// Free input names (InputRef) are not recorded; they never block
// creation.
type Graph struct {
	order []string
	deps  map[string]map[string]bool
}

// Build constructs the dependency graph for a block's statements.
// Dependencies are collected structurally across every expression
// shape, including inside array/map literals and index targets (both
// the index base and the index value) — omitting either produces
// false "ready" states and evaluator deadlocks (spec.md §9).
func Build(stmts []ir.Statement) *Graph {
	g := &Graph{deps: make(map[string]map[string]bool, len(stmts))}
	for _, s := range stmts {
		id := s.StmtID()
		g.order = append(g.order, id)
		g.deps[id] = make(map[string]bool)
		collectStmtDeps(s, g.deps[id])
	}
	return g
}

func collectStmtDeps(s ir.Statement, into map[string]bool) {
	switch n := s.(type) {
	case *ir.StepStmt:
		for _, a := range n.Args {
			collectExprDeps(a.Value, into)
		}
	case *ir.ForeachClause:
		collectExprDeps(n.In, into)
		// The loop body's internal dependencies are scoped to its own
		// sub-block graph, built separately per materialized
		// iteration; only the outer `in` expression can reference an
		// outer sibling.
	}
}

func collectExprDeps(e ir.Expr, into map[string]bool) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *ir.StepRef:
		if len(n.Path) > 0 {
			into[n.Path[0]] = true
		}
	case *ir.InputRef:
		// Free-input references alone never create a sibling
		// dependency.
	case *ir.BinaryExpr:
		collectExprDeps(n.Left, into)
		collectExprDeps(n.Right, into)
	case *ir.UnaryExpr:
		collectExprDeps(n.Operand, into)
	case *ir.ArrayLiteral:
		for _, el := range n.Elements {
			collectExprDeps(el, into)
		}
	case *ir.MapLiteral:
		for _, el := range n.Entries {
			collectExprDeps(el, into)
		}
	case *ir.IndexExpr:
		collectExprDeps(n.Base, into)
		collectExprDeps(n.Index, into)
	case *ir.ConcatExpr:
		for _, p := range n.Parts {
			collectExprDeps(p, into)
		}
	case *ir.CallExpr:
		for _, a := range n.Args {
			collectExprDeps(a.Value, into)
		}
	case *ir.Literal:
		if items, ok := n.Value.([]any); ok {
			for _, item := range items {
				if sub, ok := item.(ir.Expr); ok {
					collectExprDeps(sub, into)
				}
			}
		}
	}
}

// CanCreate reports whether every sibling dependency of stmtID is in
// completedIDs. Free-input references alone never block creation.
func (g *Graph) CanCreate(stmtID string, completedIDs map[string]bool) bool {
	for dep := range g.deps[stmtID] {
		if !completedIDs[dep] {
			return false
		}
	}
	return true
}

// GetReady returns all statement ids whose dependencies are satisfied
// and which are not yet materialized (materialized is supplied by the
// caller, since that is evaluator/store state, not graph state). The
// order of the returned set carries no semantic weight.
func (g *Graph) GetReady(completedIDs, materialized map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if materialized[id] {
			continue
		}
		if g.CanCreate(id, completedIDs) {
			ready = append(ready, id)
		}
	}
	return ready
}

// TopologicalOrder returns a deterministic ordering honoring the
// partial order induced by dependencies, used for telemetry and
// logging only — the evaluator may otherwise dispatch ready statements
// in any order.
func (g *Graph) TopologicalOrder() []string {
	visited := make(map[string]bool, len(g.order))
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		deps := make([]string, 0, len(g.deps[id]))
		for d := range g.deps[id] {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		for _, d := range deps {
			if _, known := g.deps[d]; known {
				visit(d)
			}
		}
		out = append(out, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return out
}
