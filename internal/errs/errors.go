// Package errs defines the error taxonomy shared by every researchflow
// component. Callers classify errors with the Is* helpers, which see
// through fmt.Errorf %w wrapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code categorizes domain errors.
type Code string

const (
	// CodeValidation indicates malformed input, rejected before any state change.
	CodeValidation Code = "VALIDATION"

	// CodeNotFound indicates an unknown artifact, edge, room or scope.
	CodeNotFound Code = "NOT_FOUND"

	// CodeCycle indicates an edge would violate acyclicity.
	CodeCycle Code = "CYCLE"

	// CodeConflict indicates a duplicate edge or an already-applied change.
	CodeConflict Code = "CONFLICT"

	// CodeTamper indicates a hash chain verification mismatch.
	CodeTamper Code = "TAMPER"

	// CodePersistence indicates the durable store is unavailable.
	CodePersistence Code = "PERSISTENCE"

	// CodeGateDenied indicates the governance gate blocked the operation.
	CodeGateDenied Code = "GATE_DENIED"

	// CodeInternal is used for anything unclassified.
	CodeInternal Code = "INTERNAL"
)

// Error is a classified domain error.
//
// Details carries structured context (ids, cycle paths, divergence points)
// that the API layer copies into the response body.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// NotFound creates a CodeNotFound error for a kind of record.
func NotFound(kind, id string) *Error {
	return New(CodeNotFound, "%s %q not found", kind, id).WithDetail("id", id)
}

// Cycle creates a CodeCycle error carrying the offending path.
func Cycle(sourceID, targetID string, path []string) *Error {
	return New(CodeCycle, "edge %s -> %s would create a cycle", sourceID, targetID).
		WithDetail("source_id", sourceID).
		WithDetail("target_id", targetID).
		WithDetail("path", path)
}

// Conflict creates a CodeConflict error.
func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// Tamper creates a CodeTamper error for a scope diverging at seq.
func Tamper(scopeID string, seq int64, reason string) *Error {
	return New(CodeTamper, "audit chain %q diverges at seq %d: %s", scopeID, seq, reason).
		WithDetail("scope_id", scopeID).
		WithDetail("first_divergence", seq)
}

// Persistence wraps a durable-store failure.
func Persistence(err error, op string) *Error {
	return Wrap(CodePersistence, err, "%s", op)
}

// GateDenied creates a CodeGateDenied error.
func GateDenied(reason string) *Error {
	return New(CodeGateDenied, "governance gate denied the operation: %s", reason)
}

// CodeOf returns the Code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return Is(err, CodeValidation) }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsCycle returns true if err is a cycle error.
func IsCycle(err error) bool { return Is(err, CodeCycle) }

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool { return Is(err, CodeConflict) }

// IsTamper returns true if err is a tamper error.
func IsTamper(err error) bool { return Is(err, CodeTamper) }

// IsPersistence returns true if err is a persistence error.
func IsPersistence(err error) bool { return Is(err, CodePersistence) }

// IsGateDenied returns true if err is a gate denial.
func IsGateDenied(err error) bool { return Is(err, CodeGateDenied) }

// HTTPStatus maps a code to the status the REST API responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCycle, CodeConflict:
		return http.StatusConflict
	case CodeGateDenied:
		return http.StatusForbidden
	case CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
