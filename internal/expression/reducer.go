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
	"fmt"

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

// Reduce evaluates expr against env, returning its value. Reduction
// is deterministic and side-effect free; a CallExpr must never be
// passed here (it marks a step boundary the evaluator consumes
// separately) and reduces with an EvaluationError if encountered.
func Reduce(expr ir.Expr, env Env) (any, error) {
	switch e := expr.(type) {
	case *ir.Literal:
		return reduceLiteral(e, env)
	case *ir.InputRef:
		return reduceInputRef(e, env)
	case *ir.StepRef:
		return reduceStepRef(e, env)
	case *ir.BinaryExpr:
		return reduceBinary(e, env)
	case *ir.UnaryExpr:
		return reduceUnary(e, env)
	case *ir.ArrayLiteral:
		return reduceArray(e, env)
	case *ir.MapLiteral:
		return reduceMap(e, env)
	case *ir.IndexExpr:
		return reduceIndex(e, env)
	case *ir.ConcatExpr:
		return reduceConcat(e, env)
	case *ir.CallExpr:
		return nil, ferrors.New(ferrors.KindEvaluationError, "CallExpr marks a step boundary and cannot be reduced")
	default:
		return nil, ferrors.Newf(ferrors.KindEvaluationError, "unsupported expression node %T", expr)
	}
}

func reduceLiteral(l *ir.Literal, env Env) (any, error) {
	switch v := l.Value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if sub, ok := item.(ir.Expr); ok {
				rv, err := Reduce(sub, env)
				if err != nil {
					return nil, err
				}
				out[i] = rv
				continue
			}
			out[i] = item
		}
		return out, nil
	default:
		return l.Value, nil
	}
}

func reduceArray(a *ir.ArrayLiteral, env Env) (any, error) {
	out := make([]any, len(a.Elements))
	for i, el := range a.Elements {
		v, err := Reduce(el, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func reduceMap(m *ir.MapLiteral, env Env) (any, error) {
	out := make(map[string]any, len(m.Entries))
	for k, el := range m.Entries {
		v, err := Reduce(el, env)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func reduceInputRef(r *ir.InputRef, env Env) (any, error) {
	if len(r.Path) == 0 {
		return nil, ferrors.New(ferrors.KindReferenceError, "empty input reference path")
	}
	head := r.Path[0]
	if env.LoopVar != "" && head == env.LoopVar {
		return navigate(env.LoopValue, r.Path[1:])
	}
	v, ok := env.Inputs[head]
	if !ok {
		return nil, ferrors.Newf(ferrors.KindReferenceError, "unknown input: %s", head)
	}
	return navigate(v, r.Path[1:])
}

func reduceStepRef(r *ir.StepRef, env Env) (any, error) {
	if len(r.Path) < 2 {
		return nil, ferrors.New(ferrors.KindReferenceError, "step reference requires step_name.return_name")
	}
	stepName, returnName := r.Path[0], r.Path[1]
	stepReturns, ok := env.Steps[stepName]
	if !ok {
		return nil, ferrors.Newf(ferrors.KindReferenceError, "unknown sibling step: %s", stepName)
	}
	v, ok := stepReturns[returnName]
	if !ok {
		return nil, ferrors.Newf(ferrors.KindReferenceError, "unknown return %q on step %q", returnName, stepName)
	}
	return navigate(v, r.Path[2:])
}

// navigate walks path through maps and indexable sequences starting
// at base.
func navigate(base any, path []string) (any, error) {
	cur := base
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, ferrors.Newf(ferrors.KindReferenceError, "unknown field: %s", seg)
			}
			cur = v
		case []any:
			idx, err := parseIndex(seg)
			if err != nil {
				return nil, err
			}
			if idx < 0 || idx >= len(c) {
				return nil, ferrors.Newf(ferrors.KindEvaluationError, "index out of range: %d", idx)
			}
			cur = c[idx]
		default:
			return nil, ferrors.Newf(ferrors.KindReferenceError, "cannot navigate into %s", value.TypeName(cur))
		}
	}
	return cur, nil
}

func parseIndex(seg string) (int, error) {
	var n int
	_, err := fmt.Sscanf(seg, "%d", &n)
	if err != nil {
		return 0, ferrors.Newf(ferrors.KindReferenceError, "not a numeric index: %s", seg)
	}
	return n, nil
}

func reduceIndex(idxExpr *ir.IndexExpr, env Env) (any, error) {
	base, err := Reduce(idxExpr.Base, env)
	if err != nil {
		return nil, err
	}
	idxVal, err := Reduce(idxExpr.Index, env)
	if err != nil {
		return nil, err
	}

	switch b := base.(type) {
	case []any:
		i64, ok := value.AsInt64(idxVal)
		if !ok {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "array index must be numeric, got %s", value.TypeName(idxVal))
		}
		i := int(i64)
		if i < 0 || i >= len(b) {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "index out of range: %d", i)
		}
		return b[i], nil
	case map[string]any:
		key, ok := idxVal.(string)
		if !ok {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "map index must be string, got %s", value.TypeName(idxVal))
		}
		v, ok := b[key]
		if !ok {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "index out of range: key %q not found", key)
		}
		return v, nil
	default:
		return nil, ferrors.Newf(ferrors.KindEvaluationError, "cannot index into %s", value.TypeName(base))
	}
}

func reduceConcat(c *ir.ConcatExpr, env Env) (any, error) {
	var out string
	for _, part := range c.Parts {
		v, err := Reduce(part, env)
		if err != nil {
			return nil, err
		}
		s, err := toStringForConcat(v)
		if err != nil {
			return nil, err
		}
		out += s
	}
	return out, nil
}

func toStringForConcat(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

func reduceUnary(u *ir.UnaryExpr, env Env) (any, error) {
	operand, err := Reduce(u.Operand, env)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case ir.OpNeg:
		if !value.IsNumeric(operand) {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "unary - requires numeric operand, got %s", value.TypeName(operand))
		}
		if value.IsInteger(operand) {
			i, _ := value.AsInt64(operand)
			return -i, nil
		}
		f, _ := value.AsFloat64(operand)
		return -f, nil
	case ir.OpNot:
		b, ok := operand.(bool)
		if !ok {
			return nil, ferrors.Newf(ferrors.KindEvaluationError, "unary ! requires bool operand, got %s", value.TypeName(operand))
		}
		return !b, nil
	default:
		return nil, ferrors.Newf(ferrors.KindEvaluationError, "unsupported unary operator: %s", u.Op)
	}
}
