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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/ir"
)

func TestASTCache_PutThenGetRoundTrips(t *testing.T) {
	c := newASTCache()
	wfID := ids.NewWorkflowID()

	_, ok := c.get(wfID)
	assert.False(t, ok)

	program := &ir.Program{Declarations: []ir.Declaration{&ir.WorkflowDecl{Name: "Cached"}}}
	c.put(wfID, program)

	got, ok := c.get(wfID)
	require.True(t, ok)
	assert.Same(t, program, got)
}

func TestResumeLocks_SecondTryLockFailsUntilUnlocked(t *testing.T) {
	l := newResumeLocks()
	wfID := ids.NewWorkflowID()

	require.True(t, l.tryLock(wfID))
	assert.False(t, l.tryLock(wfID), "a second concurrent resume attempt must not acquire the lock")

	l.unlock(wfID)
	assert.True(t, l.tryLock(wfID), "unlocking must free the lock for a subsequent resume")
}

func TestResumeLocks_IndependentWorkflowsDoNotContend(t *testing.T) {
	l := newResumeLocks()
	a, b := ids.NewWorkflowID(), ids.NewWorkflowID()

	require.True(t, l.tryLock(a))
	assert.True(t, l.tryLock(b), "locks are scoped per workflow id")
}
