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
	"strings"
	"sync"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/value"
)

// ModuleLoader resolves a module_uri to a callable. Go has no runtime
// module loader, so both the "file://path" form and any other URI
// scheme resolve against the same static, in-process registry keyed
// by the URI's path (for file://) or by the URI as written (for
// anything else) — the Go analogue of "local file
// module" and "host runtime's module loader" alike (spec.md §4.7,
// §9; resolved as an Open Question in DESIGN.md).
type ModuleLoader interface {
	// Load returns the callable registered under key, where key is the
	// module_uri's path (for file:// URIs) or the module_uri as written
	// (for any other scheme, or a bare dotted name).
	Load(key string) (HandlerFunc, bool)
}

// StaticRegistry is a ModuleLoader backed by a fixed, programmatically
// populated map — the registration step a plugin.Plugin-style loader
// would otherwise perform at runtime.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries map[string]HandlerFunc
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{entries: make(map[string]HandlerFunc)}
}

// Register adds key to the registry, replacing any existing entry.
func (r *StaticRegistry) Register(key string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = fn
}

func (r *StaticRegistry) Load(key string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.entries[key]
	return fn, ok
}

// Registry resolves handler registrations (store.HandlerRegistration)
// to callables via a ModuleLoader, memoizing the resolved callable by
// (module_uri, checksum) so a repeatedly-dispatched facet is resolved
// only once (spec.md §4.7).
type Registry struct {
	regs   store.HandlerRegistrationStore
	loader ModuleLoader

	mu       sync.Mutex
	resolved map[string]HandlerFunc // key: module_uri + "@" + checksum
}

// NewRegistry builds a registry dispatcher backed by regs (the
// persisted handler registration CRUD surface) and loader (the
// callable resolver).
func NewRegistry(regs store.HandlerRegistrationStore, loader ModuleLoader) *Registry {
	return &Registry{regs: regs, loader: loader, resolved: make(map[string]HandlerFunc)}
}

func (r *Registry) CanDispatch(facetName string) bool {
	ctx := context.Background()
	reg, err := r.regs.GetHandlerRegistration(ctx, facetName)
	return err == nil && reg != nil
}

func (r *Registry) Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error) {
	reg, err := r.regs.GetHandlerRegistration(ctx, facetName)
	if err != nil || reg == nil {
		return nil, ferrors.Newf(ferrors.KindLoadError, "no handler registration for facet: %s", facetName)
	}

	fn, err := r.resolve(reg)
	if err != nil {
		return nil, err
	}

	out, err := fn(ctx, payload.ToPlain())
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindHandlerError, "handler raised")
	}
	return value.FromPlain(out), nil
}

func (r *Registry) resolve(reg *store.HandlerRegistration) (HandlerFunc, error) {
	memoKey := reg.ModuleURI + "@" + reg.Checksum

	r.mu.Lock()
	if fn, ok := r.resolved[memoKey]; ok {
		r.mu.Unlock()
		return fn, nil
	}
	r.mu.Unlock()

	lookupKey := moduleLookupKey(reg.ModuleURI)
	fn, ok := r.loader.Load(lookupKey)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindLoadError, "module not found: %s", reg.ModuleURI)
	}

	r.mu.Lock()
	r.resolved[memoKey] = fn
	r.mu.Unlock()
	return fn, nil
}

// moduleLookupKey strips a "file://" scheme, leaving the path; any
// other URI (or a bare dotted name) is used as-is.
func moduleLookupKey(moduleURI string) string {
	if strings.HasPrefix(moduleURI, "file://") {
		return strings.TrimPrefix(moduleURI, "file://")
	}
	return moduleURI
}

var _ Dispatcher = (*Registry)(nil)
