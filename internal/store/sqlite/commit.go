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
	"database/sql"
	"fmt"
	"time"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
)

// Commit atomically applies a batch of iteration changes inside a
// single SQLite transaction: every UpdatedSteps entry is checked
// against its ExpectedState first, and any mismatch aborts the whole
// transaction with a VersionMismatch error, mirroring the in-memory
// store's compare-and-set semantics (spec.md §4.6).
func (s *Store) Commit(ctx context.Context, changes *store.IterationChanges) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flowcore: begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range changes.UpdatedSteps {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT state FROM steps WHERE id = ?`, string(d.Step.ID)).Scan(&current)
		if err == sql.ErrNoRows {
			return ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("step not found: %s", d.Step.ID))
		}
		if err != nil {
			return fmt.Errorf("flowcore: read step for cas: %w", err)
		}
		if current != string(d.ExpectedState) {
			return ferrors.New(ferrors.KindVersionMismatch,
				fmt.Sprintf("step %s: expected state %s, found %s", d.Step.ID, d.ExpectedState, current))
		}
	}
	for _, created := range changes.CreatedSteps {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM steps WHERE id = ?`, string(created.ID)).Scan(&count); err != nil {
			return fmt.Errorf("flowcore: check step collision: %w", err)
		}
		if count > 0 {
			return ferrors.New(ferrors.KindVersionMismatch, fmt.Sprintf("step id collision: %s", created.ID))
		}
	}

	for _, created := range changes.CreatedSteps {
		if err := s.saveStepTx(ctx, tx, created); err != nil {
			return err
		}
	}
	for _, d := range changes.UpdatedSteps {
		if err := s.saveStepTx(ctx, tx, d.Step); err != nil {
			return err
		}
	}
	for _, t := range changes.CreatedTasks {
		if err := s.saveTaskTx(ctx, tx, t, true); err != nil {
			return err
		}
	}
	if changes.WorkflowUpdate != nil {
		if err := s.saveWorkflowTx(ctx, tx, changes.WorkflowUpdate); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flowcore: commit transaction: %w", err)
	}
	return nil
}

func (s *Store) saveTaskTx(ctx context.Context, ex execer, t *store.Task, isNew bool) error {
	data, err := marshalAttrs(t.Data)
	if err != nil {
		return fmt.Errorf("flowcore: marshal task data: %w", err)
	}
	now := time.Now()
	created := t.Created
	if isNew || created.IsZero() {
		created = now
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO tasks (id, name, step_id, workflow_id, runner_id, task_list, data, state, error, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			runner_id = excluded.runner_id,
			data = excluded.data,
			state = excluded.state,
			error = excluded.error,
			updated = excluded.updated
	`,
		string(t.ID), t.Name, string(t.StepID), string(t.WorkflowID), nullString(t.RunnerID),
		t.TaskList, data, string(t.State), nullString(t.Error),
		formatTime(created), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("flowcore: save task: %w", err)
	}
	return nil
}
