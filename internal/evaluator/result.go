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

// Package evaluator implements the iterative evaluator (spec.md
// §4.5): the pure, restart-safe reducer that advances every live step
// of a workflow instance by at most one state per pass, materializes
// child steps as their dependencies resolve, and commits the whole
// pass atomically through the persistence contract.
package evaluator

import (
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

// Status is the closed set of terminal/suspended outcomes a call into
// the evaluator can report.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusPaused    Status = "Paused"
	StatusError     Status = "Error"
)

// ExecutionResult is the evaluator's public return shape (spec.md
// §6): the outcome of driving a workflow instance to completion,
// pause, or failure.
type ExecutionResult struct {
	Status     Status
	WorkflowID ids.WorkflowID
	Outputs    value.Map
	Iterations int
	Err        *ferrors.Error
}
