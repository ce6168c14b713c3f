// Copyright 2026 AgentFlow Authors
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

// Package engineerr defines the error taxonomy recorded on steps and
// runners across the engine: parse, reference, validation, agent, timeout,
// contention, cancelled, and internal.
package engineerr

import "fmt"

// Kind is one of the fixed error categories the engine records.
type Kind string

const (
	// KindParse marks an invalid declaration tree at load time. Non-recoverable
	// for the runner; surfaced to the submitting client.
	KindParse Kind = "parse"
	// KindReference marks a name-resolution failure during interpretation.
	KindReference Kind = "reference"
	// KindValidation marks a type or arity mismatch in step parameters.
	KindValidation Kind = "validation"
	// KindAgent marks a failure reported verbatim by an external agent.
	KindAgent Kind = "agent"
	// KindTimeout marks a watchdog-declared stale claim; triggers requeue
	// rather than failure. No retry budget limits how often a task is
	// requeued.
	KindTimeout Kind = "timeout"
	// KindContention marks a failed conditional write; the caller re-reads
	// and retries, it is never surfaced to a user.
	KindContention Kind = "contention"
	// KindCancelled marks cooperative cancellation recorded on a step.
	KindCancelled Kind = "cancelled"
	// KindInternal marks an invariant violation; logged at high importance
	// and surfaces as runner.state = failed.
	KindInternal Kind = "internal"
)

// Error is the structured error object carried on steps and runners.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Origin  string `json:"origin,omitempty"`
	cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, origin string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), Origin: origin, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Origin != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Origin, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether err carries the given Kind. Non-*Error values are
// never equal to a Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

// asError is a tiny local errors.As to avoid importing errors solely for this.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the engine should requeue/retry rather than
// fail terminally for this kind. Only timeout and contention are retryable;
// contention is always swallowed by the caller, and a stale claim is
// requeued each time with no retry limit.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindContention
}

// Importance ranks a Kind on the 1..10 scale carried on audit log rows.
// KindInternal is pinned to the top of the scale since it marks an
// invariant violation rather than an ordinary user-visible failure.
func (k Kind) Importance() int {
	switch k {
	case KindInternal:
		return 10
	case KindParse:
		return 8
	case KindReference, KindValidation:
		return 6
	case KindAgent:
		return 5
	case KindTimeout:
		return 4
	case KindCancelled:
		return 3
	case KindContention:
		return 2
	default:
		return 5
	}
}
