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

	"github.com/flowcore/runtime/pkg/ferrors"
	"github.com/flowcore/runtime/pkg/value"
)

// Composite tries each member in order, dispatching through the first
// whose CanDispatch returns true.
type Composite struct {
	members []Dispatcher
}

// NewComposite builds a Composite trying members in the given order.
func NewComposite(members ...Dispatcher) *Composite {
	return &Composite{members: members}
}

func (c *Composite) CanDispatch(facetName string) bool {
	for _, m := range c.members {
		if m.CanDispatch(facetName) {
			return true
		}
	}
	return false
}

func (c *Composite) Dispatch(ctx context.Context, facetName string, payload value.Map) (value.Map, error) {
	for _, m := range c.members {
		if m.CanDispatch(facetName) {
			return m.Dispatch(ctx, facetName, payload)
		}
	}
	return nil, ferrors.Newf(ferrors.KindLoadError, "no dispatcher can handle facet: %s", facetName)
}

var _ Dispatcher = (*Composite)(nil)
