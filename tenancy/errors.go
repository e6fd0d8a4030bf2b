/*
errors.go - Centralized error kinds for the tenancy engine

PURPOSE:
  All error kinds in one place. Every engine operation returns either the
  updated entity or an error whose kind can be recovered with errors.Is.
  The HTTP layer maps kinds to status codes.

ERROR KINDS:
  ErrNotFound      entity missing
  ErrConflict      state-machine precondition violated, duplicate tenancy
  ErrForbidden     actor does not own the resource
  ErrInvalidInput  malformed or impossible input (negative meter units)
  ErrUnavailable   store or collaborator unreachable
  ErrTimeout       store deadline exceeded

  ErrConcurrentModification is raised by stores when a versioned update
  loses a race. It unwraps to ErrConflict.

USAGE:
  bill, err := billing.CreateBill(ctx, in)
  if errors.Is(err, tenancy.ErrInvalidInput) {
      // 400
  }

SEE ALSO:
  - api/handlers.go: kind to HTTP status mapping
*/
package tenancy

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("timeout")

	// ErrConcurrentModification is returned by a Store when the version of a
	// record changed between read and write.
	ErrConcurrentModification = fmt.Errorf("concurrent modification detected: %w", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is a classified engine error.
type Error struct {
	Kind    error  // one of the sentinel kinds
	Op      string // e.g. "booking.approve"
	Entity  string // e.g. "booking"
	ID      string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Op, e.Entity, e.ID, msg)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Entity, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func notFound(op, entity, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Entity: entity, ID: id, Message: entity + " not found"}
}

func conflict(op, entity, id, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

func forbidden(op, entity, id, message string) error {
	return &Error{Kind: ErrForbidden, Op: op, Entity: entity, ID: id, Message: message}
}

func invalid(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// classify turns a store failure into an engine error. Already classified
// errors pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Op: op, Message: err.Error()}
	}
	return &Error{Kind: ErrUnavailable, Op: op, Message: err.Error()}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var kinds = []error{ErrNotFound, ErrConflict, ErrForbidden, ErrInvalidInput, ErrUnavailable, ErrTimeout}

// KindOf returns the sentinel kind carried by err, or nil if unclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
