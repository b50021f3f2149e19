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
	"github.com/flowcore/runtime/internal/expression"
	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/pkg/value"
)

// reserved Params keys a foreach/andMap sub-block container stamps on
// itself to carry its loop-variable binding across restarts, since a
// step's only durable state is its Params/Returns.
const (
	paramLoopVar   = "$loopVar"
	paramLoopValue = "$loopValue"
)

// buildEnv constructs the reduction environment for statements whose
// ContainerID is container: free inputs come from the workflow's
// inputs, sibling returns come from container's completed StepStmt
// children keyed by name, and a loop-variable binding, if container
// carries one, is attached last.
func buildEnv(inputs value.Map, container *step.Step, children []*step.Step) expression.Env {
	env := expression.Env{
		Inputs: inputs.ToPlain(),
		Steps:  make(map[string]map[string]any, len(children)),
	}
	for _, c := range children {
		if !c.IsComplete() {
			continue
		}
		name := c.FacetName
		if bound, ok := c.GetParam(reservedStepName); ok {
			if s, ok := bound.(string); ok && s != "" {
				name = s
			}
		}
		if name == "" {
			continue
		}
		env.Steps[name] = c.Returns.ToPlain()
	}
	if name, ok := container.GetParam(paramLoopVar); ok {
		if nameStr, ok := name.(string); ok {
			val, _ := container.GetParam(paramLoopValue)
			env = env.WithLoopVar(nameStr, val)
		}
	}
	return env
}

// bindLoopVar stamps a foreach/andMap sub-block container step with
// its loop-variable binding so it survives a restart and can be read
// back by buildEnv.
func bindLoopVar(container *step.Step, name string, val any) {
	container.SetParam(paramLoopVar, name, "")
	container.SetParam(paramLoopValue, val, "")
}
