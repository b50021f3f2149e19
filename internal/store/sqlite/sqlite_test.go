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

package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ids"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowcore.db")
	s, err := New(Config{Path: path, WAL: false})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newStepFixture(wfID ids.WorkflowID) *step.Step {
	return step.New(wfID, step.ObjectVariableAssignment, ids.StatementID("s1"), "", ids.StepID(""), ids.StepID(""), "Value", step.IterationKey{})
}

func TestCommit_AppliesCreatedStepsAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wfID := ids.NewWorkflowID()
	st := newStepFixture(wfID)

	require.NoError(t, s.Commit(ctx, &store.IterationChanges{WorkflowID: wfID, CreatedSteps: []*step.Step{st}}))

	got, err := s.GetStep(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, step.Created, got.State)
}

func TestCommit_RejectsConflictingCreatedStepID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wfID := ids.NewWorkflowID()
	st := newStepFixture(wfID)
	require.NoError(t, s.Commit(ctx, &store.IterationChanges{WorkflowID: wfID, CreatedSteps: []*step.Step{st}}))

	dup := st.Clone()
	err := s.Commit(ctx, &store.IterationChanges{WorkflowID: wfID, CreatedSteps: []*step.Step{dup}})
	require.Error(t, err)
}

func TestCommit_DetectsVersionMismatchOnUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wfID := ids.NewWorkflowID()
	st := newStepFixture(wfID)
	require.NoError(t, s.Commit(ctx, &store.IterationChanges{WorkflowID: wfID, CreatedSteps: []*step.Step{st}}))

	loaded, err := s.GetStep(ctx, st.ID)
	require.NoError(t, err)
	loaded.ChangeState(step.FacetInitBegin)
	require.NoError(t, loaded.Advance())
	require.NoError(t, s.Commit(ctx, &store.IterationChanges{
		WorkflowID:   wfID,
		UpdatedSteps: []store.StepDelta{{Step: loaded, ExpectedState: step.Created}},
	}))

	stale := st.Clone()
	stale.ChangeState(step.FacetInitBegin)
	require.NoError(t, stale.Advance())
	err = s.Commit(ctx, &store.IterationChanges{
		WorkflowID:   wfID,
		UpdatedSteps: []store.StepDelta{{Step: stale, ExpectedState: step.Created}},
	})
	require.Error(t, err)
}

func TestCommit_UpdateAndCreateAreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wfID := ids.NewWorkflowID()
	st := newStepFixture(wfID)
	require.NoError(t, s.Commit(ctx, &store.IterationChanges{WorkflowID: wfID, CreatedSteps: []*step.Step{st}}))

	loaded, err := s.GetStep(ctx, st.ID)
	require.NoError(t, err)
	loaded.ChangeState(step.FacetInitBegin)
	require.NoError(t, loaded.Advance())

	colliding := st.Clone()
	err = s.Commit(ctx, &store.IterationChanges{
		WorkflowID:   wfID,
		UpdatedSteps: []store.StepDelta{{Step: loaded, ExpectedState: step.Created}},
		CreatedSteps: []*step.Step{colliding},
	})
	require.Error(t, err)

	current, err := s.GetStep(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, step.Created, current.State, "the update half must not have applied once the create half failed")
}

func TestClaimTask_ConcurrentWorkersClaimDisjointSets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wfID := ids.NewWorkflowID()

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, s.SaveTask(ctx, &store.Task{
			ID: ids.NewTaskID(), Name: "Work", WorkflowID: wfID,
			TaskList: "default", State: store.TaskPending,
		}))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[ids.TaskID]string)
		total   int
		wg      sync.WaitGroup
	)
	claim := func(runnerID string) {
		defer wg.Done()
		for {
			task, err := s.ClaimTask(ctx, []string{"Work"}, "default", runnerID)
			require.NoError(t, err)
			if task == nil {
				return
			}
			mu.Lock()
			claimed[task.ID] = runnerID
			total++
			mu.Unlock()
		}
	}

	wg.Add(2)
	go claim("worker-a")
	go claim("worker-b")
	wg.Wait()

	assert.Len(t, claimed, n, "every task must be claimed exactly once across both workers, even over a shared single connection")
	assert.Equal(t, n, total, "no task may be claimed by both workers")
}

func TestClaimTask_ReturnsNilOnEmptyQueue(t *testing.T) {
	s := newTestStore(t)
	task, err := s.ClaimTask(context.Background(), []string{"Work"}, "default", "worker-a")
	require.NoError(t, err)
	assert.Nil(t, task)
}
