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
	"context"
	"sync"

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/value"
)

// HandlerFunc is a synchronous, in-process facet handler. It receives
// the step's reduced params as a plain map and returns the plain map
// that becomes the step's returns.
type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// InMemory is a mapping from qualified facet name to callable, used
// for tests and lightweight setups (spec.md §4.7).
type InMemory struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewInMemory constructs an empty in-memory dispatcher.
func NewInMemory() *InMemory {
	return &InMemory{handlers: make(map[string]HandlerFunc)}
}

// Register associates name with fn, replacing any prior registration
// under the same name (spec.md §8: "Registering the same facet name
// twice replaces the prior registration").
func (d *InMemory) Register(name string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = fn
}

func (d *InMemory) CanDispatch(facetName string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[facetName]
	return ok
}

func (d *InMemory) Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error) {
	d.mu.RLock()
	fn, ok := d.handlers[facetName]
	d.mu.RUnlock()
	if !ok {
		return nil, ferrors.Newf(ferrors.KindLoadError, "no handler registered for facet: %s", facetName)
	}
	out, err := fn(ctx, payload.ToPlain())
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindHandlerError, "handler raised")
	}
	return value.FromPlain(out), nil
}

var _ Dispatcher = (*InMemory)(nil)
