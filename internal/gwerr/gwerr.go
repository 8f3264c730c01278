// Package gwerr defines the gateway's error taxonomy. Every error that can
// cross a package boundary on the request path is (or wraps) a *Error, so
// the HTTP layer can map it to a status code and client-facing envelope
// without knowing which subsystem produced it.
package gwerr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// Kind classifies an error for HTTP mapping and logging.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindNotFound
	KindLimitExceeded
	KindAuthentication
	KindUpstream
	KindTransport
)

// String returns the wire-level error type used in response envelopes.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindNotFound:
		return "not_found_error"
	case KindLimitExceeded:
		return "rate_limit_error"
	case KindAuthentication:
		return "authentication_error"
	case KindUpstream:
		return "provider_error"
	case KindTransport:
		return "transport_error"
	default:
		return "server_error"
	}
}

// HTTPStatus maps a kind to the status code the gateway returns for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return fasthttp.StatusBadRequest
	case KindNotFound:
		return fasthttp.StatusNotFound
	case KindLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case KindAuthentication:
		return fasthttp.StatusUnauthorized
	case KindUpstream:
		return fasthttp.StatusBadGateway
	case KindTransport:
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Stable machine-readable error codes.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidCapability = "invalid_capability"
	CodeNoModel           = "no_model_for_capability"
	CodeUnknownProvider   = "unknown_provider"
	CodeCredentialMissing = "credential_missing"
	CodeRateLimited       = "rate_limit_exceeded"
	CodeBudgetExceeded    = "budget_exceeded"
	CodeUpstream          = "upstream_error"
	CodeUpstreamAuth      = "upstream_auth_failed"
	CodeTimeout           = "request_timeout"
	CodeInternal          = "internal_error"
	CodeNotFound          = "not_found"
)

// Error is the gateway's structured error.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// UpstreamStatus is the provider's HTTP status when Kind is KindUpstream
	// or KindAuthentication from an upstream response, zero otherwise.
	UpstreamStatus int

	// RetryAfter is a client backoff hint for KindLimitExceeded.
	RetryAfter time.Duration

	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// HTTPStatus implements the status-coder convention used by the HTTP layer.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), wrapped: err}
}

func Invalid(code, format string, args ...any) *Error {
	return New(KindInvalidRequest, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

// From normalizes an arbitrary error into a *Error. Taxonomy errors pass
// through unchanged; context deadlines become transport errors; everything
// else is internal.
func From(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, KindTransport, CodeTimeout, "upstream request timed out")
	}
	return Wrap(err, KindInternal, CodeInternal, "internal error")
}
