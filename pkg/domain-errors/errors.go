// Package domainerrors carries coded errors across service boundaries.
//
// Stores return sentinel errors (pkg/platform/sentinel) for infrastructure
// facts; services translate them into coded errors so the reimport job can
// sort failures into its taxonomy without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeInvariantViolation Code = "invariant_violation"
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"

	// CodeUnmappable marks a raw feature whose attributes cannot be mapped.
	// Recovered per feature.
	CodeUnmappable Code = "unmappable"
	// CodeDegenerateGeometry marks a geometry without length.
	CodeDegenerateGeometry Code = "degenerate_geometry"
	// CodeAmbiguousTopology marks a topological change that needs manual review.
	CodeAmbiguousTopology Code = "ambiguous_topology"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or "" if none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
