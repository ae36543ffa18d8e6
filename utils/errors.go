package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure so the HTTP layer can pick a status code
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindBadRequest
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindUpstream
)

// HTTPStatus maps an error kind onto its response status
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// AppError is the error type returned by services. Code is a stable machine
// readable identifier, Message is safe to show to API clients.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error carrying extra client-facing details
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewError(kind ErrorKind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

func WrapError(kind ErrorKind, code, message string, err error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

func BadRequest(code, message string) *AppError {
	return NewError(KindBadRequest, code, message)
}

func NotFound(code, message string) *AppError {
	return NewError(KindNotFound, code, message)
}

func Forbidden(code, message string) *AppError {
	return NewError(KindForbidden, code, message)
}

func Unauthenticated(code, message string) *AppError {
	return NewError(KindUnauthenticated, code, message)
}

func Conflict(code, message string) *AppError {
	return NewError(KindConflict, code, message)
}

func Upstream(code, message string, err error) *AppError {
	return WrapError(KindUpstream, code, message, err)
}

func Internal(message string, err error) *AppError {
	return WrapError(KindInternal, "INTERNAL_ERROR", message, err)
}

// AsAppError unwraps err into an *AppError. Errors that are not already
// classified are reported as internal failures.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// IsKind reports whether err is an *AppError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
