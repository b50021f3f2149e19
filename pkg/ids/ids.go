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

// Package ids provides opaque, globally unique identifiers for the
// engine's entities. Subtypes are tag-only: stores and wire formats
// treat every ID as a plain string.
package ids

import "github.com/google/uuid"

// StepID identifies a step record.
type StepID string

// BlockID identifies the block context a step was created under.
type BlockID string

// WorkflowID identifies a workflow instance.
type WorkflowID string

// StatementID identifies a stable IR node materialized by a step.
type StatementID string

// TaskID identifies a queued unit of external work.
type TaskID string

// ServerID identifies a running worker process.
type ServerID string

// NewStepID returns a fresh, globally unique step identifier.
func NewStepID() StepID { return StepID(uuid.NewString()) }

// NewWorkflowID returns a fresh, globally unique workflow identifier.
func NewWorkflowID() WorkflowID { return WorkflowID(uuid.NewString()) }

// NewTaskID returns a fresh, globally unique task identifier.
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// NewServerID returns a fresh, globally unique server identifier.
func NewServerID() ServerID { return ServerID(uuid.NewString()) }
