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

// Package ferrors defines the engine's error taxonomy and the
// wrap/is/as helpers used throughout the core.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of engine failure. Kinds are compared by
// value, never by pointer identity, so callers can switch on them
// after an errors.As.
type Kind string

const (
	KindInvalidStepState       Kind = "invalid_step_state"
	KindStepNotFound           Kind = "step_not_found"
	KindBlockNotFound          Kind = "block_not_found"
	KindReferenceError         Kind = "reference_error"
	KindDependencyNotSatisfied Kind = "dependency_not_satisfied"
	KindEvaluationError        Kind = "evaluation_error"
	KindInvalidTransition      Kind = "invalid_transition"
	KindVersionMismatch        Kind = "version_mismatch"
	KindLoadError              Kind = "load_error"
	KindHandlerError           Kind = "handler_error"
	KindSubprocessError        Kind = "subprocess_error"
)

// Error is the engine's structured error type. It carries enough
// context to populate ExecutionResult.error without re-parsing a
// message string.
type Error struct {
	Kind    Kind
	Message string
	StepID  string
	Err     error
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Kind, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind with no step context.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStep returns a copy of the error annotated with the step that
// produced it.
func (e *Error) WithStep(stepID string) *Error {
	cp := *e
	cp.StepID = stepID
	return &cp
}

// Wrap wraps err with the given kind and message, preserving the
// original error in the chain. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's tree matching target's type.
func As(err error, target any) bool { return errors.As(err, target) }

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
// Returns the empty Kind otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
