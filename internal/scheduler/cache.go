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

package scheduler

import (
	"context"
	"sync"

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/ir"
)

// astCache maps workflow_id to its compiled workflow IR, avoiding a
// reparse on every resume; entries are hydrated on first need by
// reparsing the persisted compiled source (spec.md §4.8).
type astCache struct {
	mu      sync.RWMutex
	entries map[ids.WorkflowID]*ir.Program
}

func newASTCache() *astCache {
	return &astCache{entries: make(map[ids.WorkflowID]*ir.Program)}
}

func (c *astCache) get(id ids.WorkflowID) (*ir.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

func (c *astCache) put(id ids.WorkflowID, p *ir.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = p
}

// programFor resolves the compiled program for wfID, consulting the
// AST cache before falling back to the store's persisted flow source
// plus the configured ProgramLoader.
func (w *Worker) programFor(ctx context.Context, wfID ids.WorkflowID) (*ir.Program, error) {
	if p, ok := w.cache.get(wfID); ok {
		return p, nil
	}

	wf, err := w.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}
	if w.loadIR == nil {
		return nil, ferrors.New(ferrors.KindStepNotFound, "scheduler: no ProgramLoader configured to hydrate the AST cache")
	}
	source, err := w.store.GetFlow(ctx, wf.FlowID)
	if err != nil {
		return nil, err
	}
	program, err := w.loadIR(source)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindEvaluationError, "scheduler: failed to decode compiled program")
	}
	w.cache.put(wfID, program)
	return program, nil
}

// resumeLocks implements the per-workflow non-blocking resume lock
// (spec.md §4.8, §9): serializes calls to resume within a single
// worker for one workflow; if already held, tryLock returns false and
// the caller skips its own resume attempt rather than blocking.
type resumeLocks struct {
	mu   sync.Mutex
	held map[ids.WorkflowID]bool
}

func newResumeLocks() *resumeLocks {
	return &resumeLocks{held: make(map[ids.WorkflowID]bool)}
}

func (l *resumeLocks) tryLock(id ids.WorkflowID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

func (l *resumeLocks) unlock(id ids.WorkflowID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
