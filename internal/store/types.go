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

// Package store defines the persistence contract (spec.md §4.6): the
// set of atomic operations any backing store must provide, plus the
// durable record shapes (Workflow, Task, HandlerRegistration, Server)
// that are not themselves step records.
package store

import (
	"context"
	"time"

	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

// WorkflowState is the closed set of workflow instance states.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "Running"
	WorkflowPaused    WorkflowState = "Paused"
	WorkflowCompleted WorkflowState = "Completed"
	WorkflowFailed    WorkflowState = "Failed"
)

// Workflow is one execution of a workflow, owning a tree of steps
// rooted at a root step.
type Workflow struct {
	ID         ids.WorkflowID `json:"id"`
	Name       string         `json:"name"`
	FlowID     string         `json:"flow_id"`
	State      WorkflowState  `json:"state"`
	Inputs     value.Map      `json:"inputs"`
	Outputs    value.Map      `json:"outputs"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Iterations int            `json:"iterations"`

	// RootStepID is the id of the workflow's root step, recorded here
	// so GetWorkflowRoot need not scan every step.
	RootStepID ids.StepID `json:"root_step_id"`
}

// TaskState is the closed set of task states.
type TaskState string

const (
	TaskPending   TaskState = "Pending"
	TaskRunning   TaskState = "Running"
	TaskCompleted TaskState = "Completed"
	TaskFailed    TaskState = "Failed"
)

// Task is a pending unit of external work: the queue record for a
// paused step waiting on a handler.
type Task struct {
	ID         ids.TaskID     `json:"id"`
	Name       string         `json:"name"`
	StepID     ids.StepID     `json:"step_id"`
	WorkflowID ids.WorkflowID `json:"workflow_id"`
	RunnerID   string         `json:"runner_id,omitempty"`
	TaskList   string         `json:"task_list"`
	Data       value.Map      `json:"data"`
	State      TaskState      `json:"state"`
	Error      string         `json:"error,omitempty"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
}

// HandlerRegistration records how to dispatch a facet to a handler.
type HandlerRegistration struct {
	FacetName    string            `json:"facet_name"`
	ModuleURI    string            `json:"module_uri"`
	Entrypoint   string            `json:"entrypoint"`
	Version      string            `json:"version"`
	Checksum     string            `json:"checksum"`
	TimeoutMS    int64             `json:"timeout_ms"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Created      time.Time         `json:"created"`
	Updated      time.Time         `json:"updated"`
}

// ServerState is the closed set of worker server record states.
type ServerState string

const (
	ServerRunning  ServerState = "Running"
	ServerShutdown ServerState = "Shutdown"
)

// Server is the heartbeat and identity record for a running worker.
type Server struct {
	UUID        ids.ServerID `json:"uuid"`
	Group       string       `json:"group"`
	ServiceName string       `json:"service_name"`
	Hostname    string       `json:"hostname"`
	IPs         []string     `json:"ips"`
	StartTime   time.Time    `json:"start_time"`
	LastPing    time.Time    `json:"last_ping"`
	Topics      []string     `json:"topics"`
	Handlers    []string     `json:"handlers"`
	State       ServerState  `json:"state"`
}

// IterationChanges is an atomic batch of per-step deltas produced by
// one evaluator iteration: created steps, state transitions, attribute
// updates, and task creations. Commit applies the whole batch or none
// of it.
type IterationChanges struct {
	WorkflowID ids.WorkflowID

	// CreatedSteps are brand-new steps this iteration materialized.
	CreatedSteps []*step.Step

	// UpdatedSteps are existing steps whose Transition requested a
	// state/attribute change this iteration, paired with the state
	// the writer observed when it loaded them (for compare-and-set).
	UpdatedSteps []StepDelta

	// CreatedTasks are tasks created by steps entering EventTransmit.
	CreatedTasks []*Task

	// WorkflowUpdate, if non-nil, is the new workflow-instance state
	// to commit alongside the steps (e.g. Running -> Paused).
	WorkflowUpdate *Workflow
}

// StepDelta pairs an updated step with the prior state the writer
// expects to still be current, so Commit can detect concurrent
// modification (spec.md §4.6).
type StepDelta struct {
	Step          *step.Step
	ExpectedState step.State
}

// RunStore is the core step/workflow persistence interface.
type RunStore interface {
	SaveStep(ctx context.Context, s *step.Step) error
	GetStep(ctx context.Context, id ids.StepID) (*step.Step, error)
	GetStepsByWorkflow(ctx context.Context, wfID ids.WorkflowID) ([]*step.Step, error)
	GetStepsByBlock(ctx context.Context, blockID string) ([]*step.Step, error)
	StepExists(ctx context.Context, statementID ids.StatementID, blockID string) (bool, error)
	GetWorkflowRoot(ctx context.Context, wfID ids.WorkflowID) (*step.Step, error)

	SaveWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id ids.WorkflowID) (*Workflow, error)

	// GetFlow retrieves the compiled program source a workflow
	// instance was launched from, by flow id. The shape of the
	// returned bytes is opaque to the store (the caller reparses it).
	GetFlow(ctx context.Context, flowID string) ([]byte, error)

	// Commit atomically applies a batch of iteration changes.
	Commit(ctx context.Context, changes *IterationChanges) error
}

// TaskStore is the task queue persistence interface, including the
// atomic claim primitive that makes multiple worker processes safe.
type TaskStore interface {
	SaveTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id ids.TaskID) (*Task, error)

	// ClaimTask atomically selects one task whose Name is in
	// taskNames, TaskList matches taskList, and State is Pending;
	// transitions it to Running; stamps RunnerID with runnerID; and
	// returns the claimed task. Returns (nil, nil) if no task
	// qualifies — ClaimTask never blocks.
	ClaimTask(ctx context.Context, taskNames []string, taskList, runnerID string) (*Task, error)
}

// ServerStore is the worker heartbeat persistence interface.
type ServerStore interface {
	SaveServer(ctx context.Context, s *Server) error
	GetServer(ctx context.Context, id ids.ServerID) (*Server, error)
	UpdateServerPing(ctx context.Context, id ids.ServerID, at time.Time) error
}

// HandlerRegistrationStore is the handler registration CRUD interface.
type HandlerRegistrationStore interface {
	SaveHandlerRegistration(ctx context.Context, r *HandlerRegistration) error
	GetHandlerRegistration(ctx context.Context, facetName string) (*HandlerRegistration, error)
	ListHandlerRegistrations(ctx context.Context) ([]*HandlerRegistration, error)
	DeleteHandlerRegistration(ctx context.Context, facetName string) error
}

// Store is the full persistence contract required by the core
// (spec.md §4.6): step/workflow CRUD, atomic commit, atomic task
// claim, server heartbeats, and handler registration CRUD.
type Store interface {
	RunStore
	TaskStore
	ServerStore
	HandlerRegistrationStore
}
