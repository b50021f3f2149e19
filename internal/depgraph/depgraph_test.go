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

package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/pkg/ir"
)

func stepStmt(id, refs string) *ir.StepStmt {
	var args []ir.NamedArg
	if refs != "" {
		args = []ir.NamedArg{{Name: "input", Value: &ir.StepRef{Path: []string{refs, "value"}}}}
	}
	return &ir.StepStmt{ID: id, Name: id, Facet: "Value", Args: args}
}

func TestBuild_NoDependencies_AllReadyImmediately(t *testing.T) {
	stmts := []ir.Statement{stepStmt("a", ""), stepStmt("b", "")}
	g := Build(stmts)

	ready := g.GetReady(map[string]bool{}, map[string]bool{})
	assert.ElementsMatch(t, []string{"a", "b"}, ready)
}

func TestBuild_SiblingDependency_BlocksUntilCompleted(t *testing.T) {
	stmts := []ir.Statement{stepStmt("a", ""), stepStmt("b", "a")}
	g := Build(stmts)

	ready := g.GetReady(map[string]bool{}, map[string]bool{})
	assert.Equal(t, []string{"a"}, ready)

	ready = g.GetReady(map[string]bool{"a": true}, map[string]bool{"a": true})
	assert.Equal(t, []string{"b"}, ready)
}

func TestBuild_InputRefNeverBlocksCreation(t *testing.T) {
	stmt := &ir.StepStmt{ID: "a", Name: "a", Facet: "Value", Args: []ir.NamedArg{
		{Name: "input", Value: &ir.InputRef{Path: []string{"input"}}},
	}}
	g := Build([]ir.Statement{stmt})
	assert.True(t, g.CanCreate("a", map[string]bool{}))
}

func TestBuild_DependencyInsideArrayMapAndIndex(t *testing.T) {
	// b depends on a via an array literal element, a map literal entry,
	// an index base, and an index value — every shape spec.md §4.3/§9
	// requires the extractor to traverse.
	aRef := func() ir.Expr { return &ir.StepRef{Path: []string{"a", "value"}} }
	stmt := &ir.StepStmt{
		ID:   "b",
		Name: "b",
		Facet: "Value",
		Args: []ir.NamedArg{
			{Name: "arr", Value: &ir.ArrayLiteral{Elements: []ir.Expr{aRef()}}},
			{Name: "mp", Value: &ir.MapLiteral{Entries: map[string]ir.Expr{"k": aRef()}}},
			{Name: "idxBase", Value: &ir.IndexExpr{Base: aRef(), Index: &ir.Literal{Value: int64(0)}}},
			{Name: "idxVal", Value: &ir.IndexExpr{Base: &ir.Literal{Value: []any{}}, Index: aRef()}},
		},
	}
	g := Build([]ir.Statement{stepStmt("a", ""), stmt})
	assert.False(t, g.CanCreate("b", map[string]bool{}))
	assert.True(t, g.CanCreate("b", map[string]bool{"a": true}))
}

func TestBuild_ForeachOuterInDependsOnSibling(t *testing.T) {
	fe := &ir.ForeachClause{ID: "fe", Var: "it", In: &ir.StepRef{Path: []string{"a", "items"}}, Body: &ir.AndThenBlock{ID: "fe.body"}}
	g := Build([]ir.Statement{stepStmt("a", ""), fe})
	assert.False(t, g.CanCreate("fe", map[string]bool{}))
	assert.True(t, g.CanCreate("fe", map[string]bool{"a": true}))
}

func TestGetReady_SkipsAlreadyMaterialized(t *testing.T) {
	stmts := []ir.Statement{stepStmt("a", "")}
	g := Build(stmts)
	ready := g.GetReady(map[string]bool{}, map[string]bool{"a": true})
	assert.Empty(t, ready)
}

func TestTopologicalOrder_HonorsPartialOrder(t *testing.T) {
	stmts := []ir.Statement{stepStmt("c", "b"), stepStmt("b", "a"), stepStmt("a", "")}
	g := Build(stmts)
	order := g.TopologicalOrder()
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}
