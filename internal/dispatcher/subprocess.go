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

package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

// Subprocess launches an external handler as a child process, passing
// a freshly generated correlation id, the persistence endpoint, and the
// facet name via environment and the payload as JSON on stdin, waiting
// up to the registration's timeout and decoding the handler's JSON
// result from its stdout, grounded on the teacher's
// internal/action/shell process-invocation style (command resolution,
// captured stdout/stderr, a hard deadline).
type Subprocess struct {
	regs         store.HandlerRegistrationStore
	endpoint     string // persistence endpoint passed to the child via env
	defaultDelay time.Duration
}

// NewSubprocess builds a subprocess dispatcher. endpoint is the
// persistence endpoint string the launched process uses to read the
// step's returns back (opaque to this package; interpreted by the
// handler process).
func NewSubprocess(regs store.HandlerRegistrationStore, endpoint string) *Subprocess {
	return &Subprocess{regs: regs, endpoint: endpoint, defaultDelay: 30 * time.Second}
}

func (s *Subprocess) CanDispatch(facetName string) bool {
	reg, err := s.regs.GetHandlerRegistration(context.Background(), facetName)
	return err == nil && reg != nil && reg.Entrypoint != ""
}

func (s *Subprocess) Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error) {
	reg, err := s.regs.GetHandlerRegistration(ctx, facetName)
	if err != nil || reg == nil {
		return nil, ferrors.Newf(ferrors.KindLoadError, "no handler registration for facet: %s", facetName)
	}

	timeout := s.defaultDelay
	if reg.TimeoutMS > 0 {
		timeout = time.Duration(reg.TimeoutMS) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepID := ids.NewStepID() // fresh per-invocation correlation id; Dispatch is not given the real step id
	payloadJSON, err := json.Marshal(payload.ToPlain())
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindSubprocessError, "failed to marshal payload")
	}

	cmd := exec.CommandContext(runCtx, reg.Entrypoint)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("FLOWCORE_STEP_ID=%s", stepID),
		fmt.Sprintf("FLOWCORE_PERSISTENCE_ENDPOINT=%s", s.endpoint),
		fmt.Sprintf("FLOWCORE_FACET=%s", facetName),
	)
	cmd.Stdin = bytes.NewReader(payloadJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() != nil {
		return nil, ferrors.Newf(ferrors.KindSubprocessError, "handler %s timed out after %s", facetName, timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, ferrors.Newf(ferrors.KindSubprocessError,
				"handler %s exited %d: %s", facetName, exitErr.ExitCode(), stderr.String())
		}
		return nil, ferrors.Wrap(err, ferrors.KindSubprocessError, "failed to launch handler process")
	}

	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindSubprocessError, "handler produced invalid JSON result")
	}
	return value.FromPlain(out), nil
}

var _ Dispatcher = (*Subprocess)(nil)
