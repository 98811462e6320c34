// Package apierrors is the taxonomy named in spec.md §7: a short Code per
// error class, carried in both the protocol `error` envelope and the HTTP
// JSON error body, built on top of github.com/gravitational/trace the way
// the teacher builds its own error handling on trace throughout lib/auth.
package apierrors

import (
	"net/http"

	"github.com/gravitational/trace"
)

// Code is one of the taxonomy values from spec.md §7.
type Code string

const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeMissingToken     Code = "MISSING_TOKEN"
	CodeInvalidPIN       Code = "INVALID_PIN"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionExpired   Code = "SESSION_EXPIRED"
	CodeAlreadyPaired    Code = "ALREADY_PAIRED"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeUnknownCommand   Code = "UNKNOWN_COMMAND"
	CodeHandlerError     Code = "HANDLER_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeForbidden        Code = "FORBIDDEN"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeTimeout          Code = "TIMEOUT"
	CodeConnectionClosed Code = "CONNECTION_CLOSED"
	CodeAIUnavailable    Code = "AI_UNAVAILABLE"
	CodeTerminalNotFound Code = "TERMINAL_NOT_FOUND"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// taggedError associates a Code with an underlying trace error, so it can
// survive being wrapped/unwrapped through ordinary error-handling code.
type taggedError struct {
	code Code
	err  error
}

func (e *taggedError) Error() string { return e.err.Error() }
func (e *taggedError) Unwrap() error { return e.err }

// New builds an error tagged with code, wrapping the trace-constructed
// underlying error so trace.Is* predicates still work on it.
func New(code Code, err error) error {
	return &taggedError{code: code, err: err}
}

// CodeOf extracts the Code tagged onto err by New, or "" if untagged.
func CodeOf(err error) Code {
	for err != nil {
		if te, ok := err.(*taggedError); ok {
			return te.code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// HTTPStatus maps a Code to the HTTP status spec.md §6/§7 implies for the
// Relay HTTP surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized, CodeTokenExpired, CodeInvalidToken, CodeMissingToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeSessionNotFound, CodeTerminalNotFound:
		return http.StatusNotFound
	case CodeInvalidPIN, CodeInvalidRequest, CodeUnknownCommand:
		return http.StatusBadRequest
	case CodeAlreadyPaired:
		return http.StatusConflict
	case CodeSessionExpired:
		return http.StatusGone
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeAIUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromTrace best-effort classifies a plain trace/stdlib error into a Code,
// for code paths that didn't construct the error via New.
func FromTrace(err error) Code {
	switch {
	case err == nil:
		return ""
	case trace.IsNotFound(err):
		return CodeNotFound
	case trace.IsAccessDenied(err):
		return CodeUnauthorized
	case trace.IsAlreadyExists(err):
		return CodeAlreadyPaired
	case trace.IsBadParameter(err):
		return CodeInvalidRequest
	case trace.IsLimitExceeded(err):
		return CodeTimeout
	case trace.IsConnectionProblem(err):
		return CodeConnectionClosed
	default:
		return CodeInternalError
	}
}
