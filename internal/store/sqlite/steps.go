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
	"encoding/json"
	"fmt"

	"github.com/flowcore/runtime/internal/step"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

func marshalAttrs(m value.Map) (string, error) {
	if m == nil {
		m = value.NewMap()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalAttrs(s sql.NullString) (value.Map, error) {
	m := value.NewMap()
	if !s.Valid || s.String == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) SaveStep(ctx context.Context, st *step.Step) error {
	return s.saveStepTx(ctx, s.db, st)
}

func (s *Store) saveStepTx(ctx context.Context, ex execer, st *step.Step) error {
	params, err := marshalAttrs(st.Params)
	if err != nil {
		return fmt.Errorf("flowcore: marshal step params: %w", err)
	}
	returns, err := marshalAttrs(st.Returns)
	if err != nil {
		return fmt.Errorf("flowcore: marshal step returns: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO steps (id, workflow_id, root_id, container_id, object_type, statement_id,
			block_id, state, facet_name, params, returns, iteration_index, iteration_present)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			facet_name = excluded.facet_name,
			params = excluded.params,
			returns = excluded.returns
	`,
		string(st.ID), string(st.WorkflowID), string(st.RootID), string(st.ContainerID),
		string(st.ObjectType), string(st.StatementID), st.BlockID, string(st.State),
		nullString(st.FacetName), params, returns,
		st.IterationKey.Index, boolToInt(st.IterationKey.Present),
	)
	if err != nil {
		return fmt.Errorf("flowcore: save step: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanStep(row rowScanner) (*step.Step, error) {
	var st step.Step
	var rootID, containerID, facetName sql.NullString
	var params, returns sql.NullString
	var iterIdx int
	var iterPresent int

	err := row.Scan(
		&st.ID, &st.WorkflowID, &rootID, &containerID, &st.ObjectType, &st.StatementID,
		&st.BlockID, &st.State, &facetName, &params, &returns, &iterIdx, &iterPresent,
	)
	if err != nil {
		return nil, err
	}
	if rootID.Valid {
		st.RootID = ids.StepID(rootID.String)
	}
	if containerID.Valid {
		st.ContainerID = ids.StepID(containerID.String)
	}
	if facetName.Valid {
		st.FacetName = facetName.String
	}
	st.IterationKey = step.IterationKey{Index: iterIdx, Present: iterPresent != 0}

	p, err := unmarshalAttrs(params)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal step params: %w", err)
	}
	st.Params = p
	r, err := unmarshalAttrs(returns)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal step returns: %w", err)
	}
	st.Returns = r

	return &st, nil
}

const stepColumns = `id, workflow_id, root_id, container_id, object_type, statement_id,
	block_id, state, facet_name, params, returns, iteration_index, iteration_present`

func (s *Store) GetStep(ctx context.Context, id ids.StepID) (*step.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, string(id))
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("step not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get step: %w", err)
	}
	return st, nil
}

func (s *Store) GetStepsByWorkflow(ctx context.Context, wfID ids.WorkflowID) ([]*step.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE workflow_id = ? ORDER BY id`, string(wfID))
	if err != nil {
		return nil, fmt.Errorf("flowcore: list steps by workflow: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

func (s *Store) GetStepsByBlock(ctx context.Context, blockID string) ([]*step.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE block_id = ? ORDER BY id`, blockID)
	if err != nil {
		return nil, fmt.Errorf("flowcore: list steps by block: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

func scanSteps(rows *sql.Rows) ([]*step.Step, error) {
	var out []*step.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("flowcore: scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) StepExists(ctx context.Context, statementID ids.StatementID, blockID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM steps WHERE statement_id = ? AND block_id = ?`,
		string(statementID), blockID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("flowcore: check step existence: %w", err)
	}
	return count > 0, nil
}

func (s *Store) GetWorkflowRoot(ctx context.Context, wfID ids.WorkflowID) (*step.Step, error) {
	wf, err := s.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}
	return s.GetStep(ctx, wf.RootStepID)
}

func (s *Store) SaveWorkflow(ctx context.Context, w *store.Workflow) error {
	return s.saveWorkflowTx(ctx, s.db, w)
}

func (s *Store) saveWorkflowTx(ctx context.Context, ex execer, w *store.Workflow) error {
	inputs, err := marshalAttrs(w.Inputs)
	if err != nil {
		return fmt.Errorf("flowcore: marshal workflow inputs: %w", err)
	}
	outputs, err := marshalAttrs(w.Outputs)
	if err != nil {
		return fmt.Errorf("flowcore: marshal workflow outputs: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO workflows (id, name, flow_id, state, inputs, outputs, start_time, end_time, iterations, root_step_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			outputs = excluded.outputs,
			end_time = excluded.end_time,
			iterations = excluded.iterations,
			root_step_id = excluded.root_step_id
	`,
		string(w.ID), w.Name, w.FlowID, string(w.State), inputs, outputs,
		formatTime(w.StartTime), formatTimePtr(w.EndTime), w.Iterations, string(w.RootStepID),
	)
	if err != nil {
		return fmt.Errorf("flowcore: save workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id ids.WorkflowID) (*store.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, flow_id, state, inputs, outputs, start_time, end_time, iterations, root_step_id
		FROM workflows WHERE id = ?
	`, string(id))

	var w store.Workflow
	var inputs, outputs sql.NullString
	var startTime string
	var endTime sql.NullString
	var rootStepID sql.NullString

	err := row.Scan(&w.ID, &w.Name, &w.FlowID, &w.State, &inputs, &outputs, &startTime, &endTime, &w.Iterations, &rootStepID)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("workflow not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get workflow: %w", err)
	}

	in, err := unmarshalAttrs(inputs)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal workflow inputs: %w", err)
	}
	w.Inputs = in
	out, err := unmarshalAttrs(outputs)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal workflow outputs: %w", err)
	}
	w.Outputs = out
	w.StartTime = parseTime(startTime)
	w.EndTime = parseTimePtr(endTime)
	if rootStepID.Valid {
		w.RootStepID = ids.StepID(rootStepID.String)
	}
	return &w, nil
}

func (s *Store) GetFlow(ctx context.Context, flowID string) ([]byte, error) {
	var source []byte
	err := s.db.QueryRowContext(ctx, `SELECT source FROM flows WHERE flow_id = ?`, flowID).Scan(&source)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("flow not found: %s", flowID))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get flow: %w", err)
	}
	return source, nil
}

// PutFlow registers compiled program source bytes under a flow id.
// Test and embedding-caller convenience, not part of the persistence
// contract itself.
func (s *Store) PutFlow(ctx context.Context, flowID string, source []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (flow_id, source) VALUES (?, ?)
		ON CONFLICT (flow_id) DO UPDATE SET source = excluded.source
	`, flowID, source)
	if err != nil {
		return fmt.Errorf("flowcore: put flow: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
