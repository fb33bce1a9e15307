package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. Handlers translate codes to HTTP statuses;
// services use them to decide whether an error is a caller mistake or an
// internal fault.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"

	// History-specific codes. Each maps to one failure mode of the
	// change-application engine.
	CodeDuplicateUnit      Code = "duplicate_unit"
	CodeDuplicateDistrict  Code = "duplicate_district"
	CodeAmbiguousName      Code = "ambiguous_name"
	CodeUnresolvedUnit     Code = "unresolved_unit"
	CodeTypeMismatch       Code = "type_mismatch"
	CodeInconsistentDate   Code = "inconsistent_date"
	CodeNonMonotonicChange Code = "non_monotonic_change"
	CodeOutOfRange         Code = "out_of_range"
)

// Error is a coded domain error. It wraps an optional cause so errors.Is and
// errors.As keep working through service layers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match two coded errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			break
		}
	}
	return false
}

// Is is shorthand for HasCode, matching the call sites that read better as a
// predicate.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code carried by err, or CodeInternal when err
// is not a coded error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status handlers should return.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInconsistentDate, CodeNonMonotonicChange, CodeTypeMismatch:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnresolvedUnit, CodeOutOfRange:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict, CodeDuplicateUnit, CodeDuplicateDistrict, CodeAmbiguousName:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
