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
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flowcore/runtime/internal/store"
)

// StaticHandleableNames returns a HandleableNames that always reports
// the fixed set names, for in-memory-dispatcher workers that know
// their handler set up front (spec.md §4.8 item 3, "the registered set
// in-memory").
func StaticHandleableNames(names ...string) HandleableNames {
	return func(context.Context) ([]string, error) { return names, nil }
}

// RegistryHandleableNames returns a HandleableNames backed by regs,
// refreshing the handleable name list from the latest handler
// registrations every refreshInterval (default 30s) and filtering by
// topicGlobs when non-empty (spec.md §4.8 item 3). The refresh is
// cached between calls so a busy poll loop does not hit the store on
// every claim attempt.
func RegistryHandleableNames(regs store.HandlerRegistrationStore, refreshInterval time.Duration, topicGlobs []string) HandleableNames {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	var (
		mu       sync.Mutex
		cached   []string
		fetched  time.Time
	)
	return func(ctx context.Context) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(fetched) < refreshInterval && cached != nil {
			return cached, nil
		}
		regsList, err := regs.ListHandlerRegistrations(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(regsList))
		for _, r := range regsList {
			if matchesAnyGlob(r.FacetName, topicGlobs) {
				names = append(names, r.FacetName)
			}
		}
		cached = names
		fetched = time.Now()
		return cached, nil
	}
}

// matchesAnyGlob reports whether name matches any of globs, using the
// teacher's pattern-matching library (internal/permissions/paths.go,
// internal/permissions/tools.go) so a topic glob can use "**" to span
// dotted namespace segments (e.g. "samples.**") the same way the
// teacher's tool- and path-permission patterns do, not just a single
// segment.
func matchesAnyGlob(name string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, err := doublestar.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}
