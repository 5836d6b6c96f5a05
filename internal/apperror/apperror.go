// Package apperror holds the error codes shared by the catalog services and handlers. Errors are
// errx values: the type drives the HTTP status, the code names the failure.
package apperror

import (
	"errors"
	"fmt"

	"github.com/code19m/errx"
)

const (
	CodeValidation   = "VALIDATION_FAILED"
	CodeInvalidQuery = "INVALID_QUERY_PARAMETER"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUpstream     = "UPSTREAM_FAILURE"
)

func newf(cause error, t errx.Type, code, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return errx.New(msg, errx.WithType(t), errx.WithCode(code))
	}
	return errx.New(msg,
		errx.WithType(t),
		errx.WithCode(code),
		errx.WithDetails(errx.D{"cause": cause.Error()}),
	)
}

// Validation reports bad input shape.
func Validation(cause error, format string, args ...any) error {
	return newf(cause, errx.T_Validation, CodeValidation, format, args...)
}

// InvalidQuery reports a malformed listing parameter.
func InvalidQuery(format string, args ...any) error {
	return newf(nil, errx.T_Validation, CodeInvalidQuery, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error {
	return newf(nil, errx.T_NotFound, CodeNotFound, format, args...)
}

// Conflict reports a duplicate or a write that lost an optimistic version check.
func Conflict(format string, args ...any) error {
	return newf(nil, errx.T_Conflict, CodeConflict, format, args...)
}

// Upstream reports a failed call to the asset store or the storage engine.
func Upstream(cause error, format string, args ...any) error {
	return newf(cause, errx.T_Internal, CodeUpstream, format, args...)
}

// Lookup returns the first errx error in err's chain.
func Lookup(err error) (errx.ErrorX, bool) {
	var e errx.ErrorX
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// TypeOf returns the errx type of err. Unclassified errors are internal.
func TypeOf(err error) errx.Type {
	if e, ok := Lookup(err); ok {
		return e.Type()
	}
	return errx.T_Internal
}

// HasCode reports whether err carries one of codes.
func HasCode(err error, codes ...string) bool {
	e, ok := Lookup(err)
	return ok && errx.IsCodeIn(e, codes...)
}

// Message returns the client-facing message of err.
func Message(err error) string {
	if e, ok := Lookup(err); ok {
		return e.Error()
	}
	return err.Error()
}
