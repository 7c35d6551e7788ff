// Package domainerrors defines coded errors returned by services. Stores
// return sentinel errors (pkg/platform/sentinel); services translate them into
// coded errors here, and the HTTP layer translates codes into status codes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"

	// Anchoring-specific codes.

	// CodeNotEligible: the identity is not in a state that permits anchoring
	// (not verified, or already submitted). Business-rule violation, never
	// retried automatically.
	CodeNotEligible Code = "not_eligible"

	// CodeAlreadyAnchored: idempotency short-circuit. The caller receives the
	// existing transaction reference; handlers surface this as success.
	CodeAlreadyAnchored Code = "already_anchored"

	// CodeUnavailable: the ledger could not be reached after bounded retries.
	// Transient; safe for the caller to retry.
	CodeUnavailable Code = "ledger_unavailable"

	// CodeLedgerRejected: the ledger accepted the call but the contract logic
	// rejected the payload. Permanent for that payload.
	CodeLedgerRejected Code = "ledger_rejected"

	// CodeIntegrity: local state claims a ledger fact the ledger denies.
	// Never auto-resolved; requires operator intervention.
	CodeIntegrity Code = "data_integrity_alarm"
)

// Error is a coded domain error. Message is safe to show to API callers except
// for CodeInternal, where handlers omit it.
type Error struct {
	Code    Code
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New constructs a coded error with a caller-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
