// Package memerr defines the error taxonomy shared by every component:
// category sentinels, an operation-wrapping error type, and stable machine
// codes that transports surface to callers unchanged.
package memerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category sentinels. Compare with errors.Is.
var (
	// ErrInvalid means the input violates schema or semantic bounds.
	ErrInvalid = errors.New("invalid input")

	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a precondition was violated, e.g. pin state.
	ErrConflict = errors.New("conflict")

	// ErrBusy means store contention exhausted the retry budget.
	ErrBusy = errors.New("store busy")

	// ErrUnavailable means a dependent subsystem is disabled or down.
	ErrUnavailable = errors.New("unavailable")

	// ErrInternal means a bug; the site logs details and callers get a
	// generic message.
	ErrInternal = errors.New("internal error")
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeInvalid     Code = "INVALID"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeBusy        Code = "BUSY"
	CodeUnavailable Code = "UNAVAILABLE"
	CodeInternal    Code = "INTERNAL"
)

// Error wraps a category sentinel with the operation that failed and an
// optional human-readable detail.
type Error struct {
	Op     string // operation, e.g. "store.CreateMemory"
	Err    error  // category sentinel or deeper cause
	Detail string // optional context for the caller
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Detail != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Detail)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	default:
		return e.Err.Error()
	}
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. A nil err is promoted to ErrInternal so a broken call
// site still produces a classifiable error.
func E(op string, err error, detail string) *Error {
	if err == nil {
		err = ErrInternal
	}
	return &Error{Op: op, Err: err, Detail: detail}
}

// Ef builds an *Error with a formatted detail string.
func Ef(op string, err error, format string, args ...any) *Error {
	return E(op, err, fmt.Sprintf(format, args...))
}

// Wrap annotates err with op, passing nil through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// CodeOf classifies err into a stable machine code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalid):
		return CodeInvalid
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatus maps err to the HTTP status code transports should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeBusy:
		return http.StatusServiceUnavailable
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message transports may expose. Internal errors are
// collapsed to a generic string so bug details never leak to callers.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if CodeOf(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
