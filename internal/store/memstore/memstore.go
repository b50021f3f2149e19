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

// Package memstore provides an in-memory implementation of the
// persistence contract, grounded on the teacher's
// internal/controller/backend/memory in-memory backend.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
)

// Store is an in-memory persistence contract implementation. Safe for
// concurrent use by multiple evaluator/worker goroutines within one
// process; it is the reference backend used by the core's own tests.
type Store struct {
	mu sync.Mutex

	steps     map[ids.StepID]*step.Step
	workflows map[ids.WorkflowID]*store.Workflow
	flows     map[string][]byte
	tasks     map[ids.TaskID]*store.Task
	servers   map[ids.ServerID]*store.Server
	handlers  map[string]*store.HandlerRegistration

	// taskOrder records claim-eligibility insertion order so ClaimTask
	// can break FIFO ties deterministically (spec.md §9 Open
	// Questions: tie-breaking is store-dependent but must be
	// deterministic within a single store).
	taskOrder []ids.TaskID
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		steps:     make(map[ids.StepID]*step.Step),
		workflows: make(map[ids.WorkflowID]*store.Workflow),
		flows:     make(map[string][]byte),
		tasks:     make(map[ids.TaskID]*store.Task),
		servers:   make(map[ids.ServerID]*store.Server),
		handlers:  make(map[string]*store.HandlerRegistration),
	}
}

// PutFlow registers compiled program source bytes under a flow id, for
// later retrieval via GetFlow. Test and embedding-caller convenience;
// not part of the persistence contract itself.
func (s *Store) PutFlow(flowID string, source []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowID] = source
}

func (s *Store) SaveStep(ctx context.Context, st *step.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[st.ID] = st.Clone()
	return nil
}

func (s *Store) GetStep(ctx context.Context, id ids.StepID) (*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("step not found: %s", id))
	}
	return st.Clone(), nil
}

func (s *Store) GetStepsByWorkflow(ctx context.Context, wfID ids.WorkflowID) ([]*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*step.Step
	for _, st := range s.steps {
		if st.WorkflowID == wfID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetStepsByBlock(ctx context.Context, blockID string) ([]*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*step.Step
	for _, st := range s.steps {
		if st.BlockID == blockID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) StepExists(ctx context.Context, statementID ids.StatementID, blockID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		if st.StatementID == statementID && st.BlockID == blockID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetWorkflowRoot(ctx context.Context, wfID ids.WorkflowID) (*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[wfID]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("workflow not found: %s", wfID))
	}
	st, ok := s.steps[wf.RootStepID]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("root step not found for workflow: %s", wfID))
	}
	return st.Clone(), nil
}

func (s *Store) SaveWorkflow(ctx context.Context, w *store.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id ids.WorkflowID) (*store.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("workflow not found: %s", id))
	}
	cp := *w
	return &cp, nil
}

func (s *Store) GetFlow(ctx context.Context, flowID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.flows[flowID]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("flow not found: %s", flowID))
	}
	return src, nil
}

// Commit atomically applies a batch of iteration changes, performing
// compare-and-set on each updated step's expected prior state. On
// conflict it applies nothing and returns a VersionMismatch error; the
// caller (the evaluator) reloads and retries.
func (s *Store) Commit(ctx context.Context, changes *store.IterationChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range changes.UpdatedSteps {
		cur, ok := s.steps[d.Step.ID]
		if !ok {
			return ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("step not found: %s", d.Step.ID))
		}
		if cur.State != d.ExpectedState {
			return ferrors.New(ferrors.KindVersionMismatch,
				fmt.Sprintf("step %s: expected state %s, found %s", d.Step.ID, d.ExpectedState, cur.State))
		}
	}
	for _, created := range changes.CreatedSteps {
		if _, exists := s.steps[created.ID]; exists {
			return ferrors.New(ferrors.KindVersionMismatch, fmt.Sprintf("step id collision: %s", created.ID))
		}
	}

	// All checks passed: apply.
	for _, created := range changes.CreatedSteps {
		s.steps[created.ID] = created.Clone()
	}
	for _, d := range changes.UpdatedSteps {
		s.steps[d.Step.ID] = d.Step.Clone()
	}
	for _, t := range changes.CreatedTasks {
		cp := *t
		cp.Created = time.Now()
		cp.Updated = cp.Created
		s.tasks[t.ID] = &cp
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	if changes.WorkflowUpdate != nil {
		cp := *changes.WorkflowUpdate
		s.workflows[cp.ID] = &cp
	}
	return nil
}

func (s *Store) SaveTask(ctx context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Updated = time.Now()
	if _, exists := s.tasks[t.ID]; !exists {
		cp.Created = cp.Updated
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) GetTask(ctx context.Context, id ids.TaskID) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("task not found: %s", id))
	}
	cp := *t
	return &cp, nil
}

// ClaimTask atomically selects the oldest Pending task (by insertion
// order, the store's deterministic tie-break) whose Name is in
// taskNames and TaskList matches, transitions it to Running, and
// stamps RunnerID. Called on an empty/ineligible queue, it returns
// (nil, nil) without blocking.
func (s *Store) ClaimTask(ctx context.Context, taskNames []string, taskList, runnerID string) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(taskNames))
	for _, n := range taskNames {
		wanted[n] = true
	}

	for _, id := range s.taskOrder {
		t, ok := s.tasks[id]
		if !ok || t.State != store.TaskPending {
			continue
		}
		if taskList != "" && t.TaskList != taskList {
			continue
		}
		if !wanted[t.Name] {
			continue
		}
		t.State = store.TaskRunning
		t.RunnerID = runnerID
		t.Updated = time.Now()
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) SaveServer(ctx context.Context, srv *store.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *srv
	s.servers[srv.UUID] = &cp
	return nil
}

func (s *Store) GetServer(ctx context.Context, id ids.ServerID) (*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("server not found: %s", id))
	}
	cp := *srv
	return &cp, nil
}

func (s *Store) UpdateServerPing(ctx context.Context, id ids.ServerID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("server not found: %s", id))
	}
	srv.LastPing = at
	return nil
}

func (s *Store) SaveHandlerRegistration(ctx context.Context, r *store.HandlerRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	now := time.Now()
	if existing, ok := s.handlers[r.FacetName]; ok {
		cp.Created = existing.Created
	} else {
		cp.Created = now
	}
	cp.Updated = now
	s.handlers[r.FacetName] = &cp
	return nil
}

func (s *Store) GetHandlerRegistration(ctx context.Context, facetName string) (*store.HandlerRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.handlers[facetName]
	if !ok {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("handler registration not found: %s", facetName))
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListHandlerRegistrations(ctx context.Context) ([]*store.HandlerRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.HandlerRegistration, 0, len(s.handlers))
	for _, r := range s.handlers {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FacetName < out[j].FacetName })
	return out, nil
}

func (s *Store) DeleteHandlerRegistration(ctx context.Context, facetName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, facetName)
	return nil
}
