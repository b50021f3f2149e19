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
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

func reduceBinary(b *ir.BinaryExpr, env Env) (any, error) {
	// Logical operators short-circuit: the right side is only reduced
	// if needed.
	switch b.Op {
	case ir.OpAnd:
		left, err := reduceBool(b.Left, env)
		if err != nil {
			return nil, err
		}
		if !left {
			return false, nil
		}
		return reduceBool(b.Right, env)
	case ir.OpOr:
		left, err := reduceBool(b.Left, env)
		if err != nil {
			return nil, err
		}
		if left {
			return true, nil
		}
		return reduceBool(b.Right, env)
	}

	left, err := Reduce(b.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Reduce(b.Right, env)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case ir.OpAdd:
		return reduceAdd(left, right)
	case ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
		return reduceArith(b.Op, left, right)
	case ir.OpEq, ir.OpNeq, ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		return reduceCompare(b.Op, left, right)
	default:
		return nil, ferrors.Newf(ferrors.KindEvaluationError, "unsupported binary operator: %s", b.Op)
	}
}

func reduceBool(e ir.Expr, env Env) (bool, error) {
	v, err := Reduce(e, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, ferrors.Newf(ferrors.KindEvaluationError, "expected bool operand, got %s", value.TypeName(v))
	}
	return b, nil
}

// reduceAdd implements "+": numeric addition, or string concatenation
// when both sides are strings. A string on only one side is an
// EvaluationError.
func reduceAdd(left, right any) (any, error) {
	ls, lIsString := left.(string)
	rs, rIsString := right.(string)
	if lIsString || rIsString {
		if !lIsString || !rIsString {
			return nil, ferrors.Newf(ferrors.KindEvaluationError,
				"+ on mixed string/%s is not supported; use concatenation", value.TypeName(right))
		}
		return ls + rs, nil
	}
	return reduceArith(ir.OpAdd, left, right)
}

// reduceArith implements the numeric-only arithmetic operators.
// Integer division performs integer division when both sides are
// integers; mixed-numeric arithmetic coerces to floating-point.
func reduceArith(op ir.BinaryOp, left, right any) (any, error) {
	if !value.IsNumeric(left) || !value.IsNumeric(right) {
		return nil, ferrors.Newf(ferrors.KindEvaluationError,
			"arithmetic requires numeric operands, got %s and %s", value.TypeName(left), value.TypeName(right))
	}

	if value.IsInteger(left) && value.IsInteger(right) {
		li, _ := value.AsInt64(left)
		ri, _ := value.AsInt64(right)
		switch op {
		case ir.OpAdd:
			return li + ri, nil
		case ir.OpSub:
			return li - ri, nil
		case ir.OpMul:
			return li * ri, nil
		case ir.OpDiv:
			if ri == 0 {
				return nil, ferrors.New(ferrors.KindEvaluationError, "integer division by zero")
			}
			return li / ri, nil
		case ir.OpMod:
			if ri == 0 {
				return nil, ferrors.New(ferrors.KindEvaluationError, "integer division by zero")
			}
			return li % ri, nil
		}
	}

	lf, _ := value.AsFloat64(left)
	rf, _ := value.AsFloat64(right)
	switch op {
	case ir.OpAdd:
		return lf + rf, nil
	case ir.OpSub:
		return lf - rf, nil
	case ir.OpMul:
		return lf * rf, nil
	case ir.OpDiv:
		if rf == 0 {
			return nil, ferrors.New(ferrors.KindEvaluationError, "division by zero")
		}
		return lf / rf, nil
	case ir.OpMod:
		return nil, ferrors.New(ferrors.KindEvaluationError, "% requires integer operands")
	}
	return nil, ferrors.Newf(ferrors.KindEvaluationError, "unsupported arithmetic operator: %s", op)
}

// reduceCompare implements comparison operators. Comparison across
// unlike types fails with EvaluationError; under == and !=, null is
// accepted on either side and equals only null.
func reduceCompare(op ir.BinaryOp, left, right any) (any, error) {
	if op == ir.OpEq || op == ir.OpNeq {
		eq, err := equalValues(left, right)
		if err != nil {
			return nil, err
		}
		if op == ir.OpEq {
			return eq, nil
		}
		return !eq, nil
	}

	if value.IsNumeric(left) && value.IsNumeric(right) {
		lf, _ := value.AsFloat64(left)
		rf, _ := value.AsFloat64(right)
		return compareOrdered(op, lf, rf), nil
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return compareOrdered(op, ls, rs), nil
	}
	return nil, ferrors.Newf(ferrors.KindEvaluationError,
		"cannot compare %s with %s", value.TypeName(left), value.TypeName(right))
}

func compareOrdered[T int | float64 | string](op ir.BinaryOp, l, r T) bool {
	switch op {
	case ir.OpLt:
		return l < r
	case ir.OpLte:
		return l <= r
	case ir.OpGt:
		return l > r
	case ir.OpGte:
		return l >= r
	default:
		return false
	}
}

func equalValues(left, right any) (bool, error) {
	if value.IsNumeric(left) && value.IsNumeric(right) {
		lf, _ := value.AsFloat64(left)
		rf, _ := value.AsFloat64(right)
		return lf == rf, nil
	}
	if left == nil || right == nil {
		return left == right, nil
	}
	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return l == r, nil
		}
	case bool:
		if r, ok := right.(bool); ok {
			return l == r, nil
		}
	}
	return false, ferrors.Newf(ferrors.KindEvaluationError,
		"cannot compare %s with %s", value.TypeName(left), value.TypeName(right))
}
