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

package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ir"
)

func lit(v any) ir.Expr { return &ir.Literal{Value: v} }

func TestReduce_Literals(t *testing.T) {
	v, err := Reduce(lit(int64(42)), Env{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestReduce_BinaryArithmetic_IntegerDivision(t *testing.T) {
	v, err := Reduce(&ir.BinaryExpr{Op: ir.OpDiv, Left: lit(int64(7)), Right: lit(int64(2))}, Env{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestReduce_BinaryArithmetic_MixedCoercesToFloat(t *testing.T) {
	v, err := Reduce(&ir.BinaryExpr{Op: ir.OpDiv, Left: lit(int64(7)), Right: lit(2.0)}, Env{})
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestReduce_IntegerDivisionByZero(t *testing.T) {
	_, err := Reduce(&ir.BinaryExpr{Op: ir.OpDiv, Left: lit(int64(1)), Right: lit(int64(0))}, Env{})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEvaluationError, ferrors.KindOf(err))
}

func TestReduce_StringConcatenationViaPlus(t *testing.T) {
	v, err := Reduce(&ir.BinaryExpr{Op: ir.OpAdd, Left: lit("foo"), Right: lit("bar")}, Env{})
	require.NoError(t, err)
	assert.Equal(t, "foobar", v)
}

func TestReduce_ComparisonAcrossUnlikeTypesFails(t *testing.T) {
	_, err := Reduce(&ir.BinaryExpr{Op: ir.OpLt, Left: lit("a"), Right: lit(int64(1))}, Env{})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEvaluationError, ferrors.KindOf(err))
}

func TestReduce_LogicalShortCircuit(t *testing.T) {
	// The right side references an unknown input; if it were evaluated
	// this would error. Short-circuiting on a false left operand for
	// && must skip it.
	badRight := &ir.InputRef{Path: []string{"nope"}}
	v, err := Reduce(&ir.BinaryExpr{Op: ir.OpAnd, Left: lit(false), Right: badRight}, Env{})
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = Reduce(&ir.BinaryExpr{Op: ir.OpOr, Left: lit(true), Right: badRight}, Env{})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestReduce_UnaryNegationAndNot(t *testing.T) {
	v, err := Reduce(&ir.UnaryExpr{Op: ir.OpNeg, Operand: lit(int64(5))}, Env{})
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)

	v, err = Reduce(&ir.UnaryExpr{Op: ir.OpNot, Operand: lit(true)}, Env{})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestReduce_ArrayIndexOutOfRange(t *testing.T) {
	arr := &ir.ArrayLiteral{Elements: []ir.Expr{lit(int64(1)), lit(int64(2))}}
	_, err := Reduce(&ir.IndexExpr{Base: arr, Index: lit(int64(5))}, Env{})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEvaluationError, ferrors.KindOf(err))
}

func TestReduce_MapIndexMissingKey(t *testing.T) {
	m := &ir.MapLiteral{Entries: map[string]ir.Expr{"a": lit(int64(1))}}
	_, err := Reduce(&ir.IndexExpr{Base: m, Index: lit("b")}, Env{})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEvaluationError, ferrors.KindOf(err))
}

func TestReduce_InputRefNavigatesPath(t *testing.T) {
	env := Env{Inputs: map[string]any{"config": map[string]any{"name": "acme"}}}
	v, err := Reduce(&ir.InputRef{Path: []string{"config", "name"}}, env)
	require.NoError(t, err)
	assert.Equal(t, "acme", v)
}

func TestReduce_InputRefUnknownFails(t *testing.T) {
	_, err := Reduce(&ir.InputRef{Path: []string{"missing"}}, Env{Inputs: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindReferenceError, ferrors.KindOf(err))
}

func TestReduce_StepRefUnknownSiblingFails(t *testing.T) {
	env := Env{Steps: map[string]map[string]any{}}
	_, err := Reduce(&ir.StepRef{Path: []string{"s1", "output"}}, env)
	require.Error(t, err)
	assert.Equal(t, ferrors.KindReferenceError, ferrors.KindOf(err))
}

func TestReduce_StepRefResolvesSiblingReturn(t *testing.T) {
	env := Env{Steps: map[string]map[string]any{"s1": {"output": int64(9)}}}
	v, err := Reduce(&ir.StepRef{Path: []string{"s1", "output"}}, env)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
}

func TestReduce_LoopVarBinding(t *testing.T) {
	env := Env{}.WithLoopVar("it", map[string]any{"id": "sample-1"})
	v, err := Reduce(&ir.InputRef{Path: []string{"it", "id"}}, env)
	require.NoError(t, err)
	assert.Equal(t, "sample-1", v)
}

func TestReduce_ConcatExpr(t *testing.T) {
	v, err := Reduce(&ir.ConcatExpr{Parts: []ir.Expr{lit("hello, "), lit("world")}}, Env{})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", v)
}

func TestReduce_CallExprNeverReduced(t *testing.T) {
	_, err := Reduce(&ir.CallExpr{Facet: "Value"}, Env{})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEvaluationError, ferrors.KindOf(err))
}
