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

import "github.com/flowcore/runtime/pkg/ir"

// nodeIndex maps a stable IR node id to the node itself, flattening
// the tree so a step's statement_id resolves to its IR node in
// constant time regardless of nesting depth. IR node ids are assumed
// unique across a single compiled program.
type nodeIndex map[string]any

// buildIndex walks block and everything it (transitively) contains,
// registering every AndThenBlock, StepStmt, ForeachClause, and
// YieldStmt it finds.
func buildIndex(block *ir.AndThenBlock, idx nodeIndex) {
	if block == nil {
		return
	}
	idx[block.ID] = block
	for _, stmt := range block.Stmts {
		switch s := stmt.(type) {
		case *ir.StepStmt:
			idx[s.ID] = s
		case *ir.ForeachClause:
			idx[s.ID] = s
			buildIndex(s.Body, idx)
		}
	}
	if block.Map != nil {
		buildIndex(block.Map.Body, idx)
	}
	if block.Match != nil {
		for _, c := range block.Match.Cases {
			buildIndex(c.Body, idx)
		}
	}
	if block.Yield != nil {
		idx[block.Yield.ID] = block.Yield
	}
}
