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
	"strings"
	"time"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
)

func (s *Store) SaveTask(ctx context.Context, t *store.Task) error {
	existing, err := s.GetTask(ctx, t.ID)
	isNew := err != nil || existing == nil
	return s.saveTaskTx(ctx, s.db, t, isNew)
}

const taskColumns = `id, name, step_id, workflow_id, runner_id, task_list, data, state, error, created, updated`

func scanTask(row rowScanner) (*store.Task, error) {
	var t store.Task
	var runnerID, errorStr, data sql.NullString
	var created, updated string

	err := row.Scan(&t.ID, &t.Name, &t.StepID, &t.WorkflowID, &runnerID, &t.TaskList, &data, &t.State, &errorStr, &created, &updated)
	if err != nil {
		return nil, err
	}
	if runnerID.Valid {
		t.RunnerID = runnerID.String
	}
	if errorStr.Valid {
		t.Error = errorStr.String
	}
	d, err := unmarshalAttrs(data)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal task data: %w", err)
	}
	t.Data = d
	t.Created = parseTime(created)
	t.Updated = parseTime(updated)
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id ids.TaskID) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, string(id))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("task not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get task: %w", err)
	}
	return t, nil
}

// ClaimTask atomically selects the oldest Pending task (by insertion
// sequence) whose Name is in taskNames and TaskList matches taskList,
// transitions it to Running, and stamps RunnerID. With the store's
// single SQLite connection serializing every statement, the
// select-then-update pair below is equivalent to an atomic claim: no
// other goroutine's statement can interleave between them (spec.md
// §4.6, §4.8). Returns (nil, nil) on an empty/ineligible queue.
func (s *Store) ClaimTask(ctx context.Context, taskNames []string, taskList, runnerID string) (*store.Task, error) {
	if len(taskNames) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("flowcore: begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(taskNames))
	args := make([]any, 0, len(taskNames)+2)
	args = append(args, store.TaskPending, taskList)
	for i, n := range taskNames {
		placeholders[i] = "?"
		args = append(args, n)
	}
	query := fmt.Sprintf(`
		SELECT id FROM tasks
		WHERE state = ? AND task_list = ? AND name IN (%s)
		ORDER BY seq ASC LIMIT 1
	`, strings.Join(placeholders, ","))

	var taskID string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: select claimable task: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?, runner_id = ?, updated = ? WHERE id = ?
	`, string(store.TaskRunning), runnerID, formatTime(now), taskID)
	if err != nil {
		return nil, fmt.Errorf("flowcore: claim task: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("flowcore: read claimed task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("flowcore: commit claim transaction: %w", err)
	}
	return t, nil
}
