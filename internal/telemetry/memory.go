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

package telemetry

import "sync"

// MemorySink records every event it receives, for use in tests that
// assert on the exact sequence of transitions an evaluator run
// produced.
type MemorySink struct {
	mu          sync.Mutex
	transitions []Transition
	iterations  []IterationResult
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordTransition(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
}

func (s *MemorySink) RecordIteration(r IterationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, r)
}

// Transitions returns a snapshot of every recorded transition, in
// recording order.
func (s *MemorySink) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Iterations returns a snapshot of every recorded iteration result, in
// recording order.
func (s *MemorySink) Iterations() []IterationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IterationResult, len(s.iterations))
	copy(out, s.iterations)
	return out
}

var _ Sink = (*MemorySink)(nil)
