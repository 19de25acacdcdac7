package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/engine"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// codes that make no sense for a formula service, like unauthenticated, are
// skipped.
type AppErrorCode int

const (
	OK AppErrorCode = 0

	// Canceled means the caller went away before the evaluation finished.
	Canceled AppErrorCode = 1

	// Unknown error. errors that carry no more information map here.
	Unknown AppErrorCode = 2

	// InvalidArgument means the formula or the table in the request is
	// malformed.
	InvalidArgument AppErrorCode = 3

	DeadlineExceeded AppErrorCode = 4

	// NotFound means the formula reads a column the table does not have.
	NotFound AppErrorCode = 5

	// FailedPrecondition means the formula is well formed but the chosen
	// backend cannot run it.
	FailedPrecondition AppErrorCode = 9

	// Unimplemented means the requested backend is not enabled.
	Unimplemented AppErrorCode = 12

	Internal AppErrorCode = 13

	// Unavailable means the automation host could not be started or died.
	Unavailable AppErrorCode = 14
)

var codeNames = map[AppErrorCode]string{
	OK:                 "OK",
	Canceled:           "CANCELED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	FailedPrecondition: "FAILED_PRECONDITION",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
}

func (c AppErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[Unknown]
}

// HTTPStatus is the response status a code is served with.
func (c AppErrorCode) HTTPStatus() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument:
		return http.StatusBadRequest
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case NotFound, FailedPrecondition:
		return http.StatusUnprocessableEntity
	case Unimplemented:
		return http.StatusNotImplemented
	case Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// AppError is an application level failure, as opposed to a cell error
// inside a result column.
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Missing []string `json:"missing,omitempty"`
}

// codeOf classifies an error from the engine.
func codeOf(err error) AppErrorCode {
	var appErr *AppError
	switch {
	case err == nil:
		return OK
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	case errors.Is(err, formula.ErrSyntax),
		errors.Is(err, engine.ErrEmptyFormulaText),
		errors.Is(err, engine.ErrUnknownBackend),
		errors.Is(err, dataset.ErrRowCount),
		errors.Is(err, dataset.ErrDuplicateColumn):
		return InvalidArgument
	case errors.Is(err, formula.ErrDependency):
		return NotFound
	case errors.Is(err, formula.ErrTranslation):
		return FailedPrecondition
	case errors.Is(err, engine.ErrDelegatedDisabled):
		return Unimplemented
	case errors.Is(err, formula.ErrResource):
		return Unavailable
	}
	return Internal
}

func errorResponse(err error) (int, ErrorResponse) {
	code := codeOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: code.String()}
	var depErr *formula.DependencyError
	if errors.As(err, &depErr) {
		resp.Missing = depErr.Missing
	}
	return code.HTTPStatus(), resp
}
