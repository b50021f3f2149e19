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

// Package dispatcher implements the handler dispatcher variants
// (spec.md §4.7): registry, in-memory, subprocess, and composite, plus
// the qualified-name-then-short-name fallback lookup shared by all of
// them.
package dispatcher

import (
	"context"

	"github.com/flowcore/runtime/pkg/ir"
	"github.com/flowcore/runtime/pkg/value"
)

// Dispatcher is the polymorphic capability the evaluator calls to run
// an inline or external handler for a facet.
type Dispatcher interface {
	CanDispatch(facetName string) bool
	Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error)
}

// WithShortNameFallback wraps d so that a failed CanDispatch/Dispatch
// against the full qualified name is retried against its trailing
// component, per spec.md §4.7 and §9 ("exact qualified names win").
func WithShortNameFallback(d Dispatcher) Dispatcher {
	return &shortNameFallback{inner: d}
}

type shortNameFallback struct {
	inner Dispatcher
}

func (f *shortNameFallback) CanDispatch(facetName string) bool {
	if f.inner.CanDispatch(facetName) {
		return true
	}
	short := ir.ShortName(facetName)
	return short != facetName && f.inner.CanDispatch(short)
}

func (f *shortNameFallback) Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error) {
	if f.inner.CanDispatch(facetName) {
		return f.inner.Dispatch(ctx, facetName, payload)
	}
	return f.inner.Dispatch(ctx, ir.ShortName(facetName), payload)
}

var _ Dispatcher = (*shortNameFallback)(nil)
