// Package ragerrors defines the error taxonomy shared across the HTTP
// surface: every error a handler can return carries a Kind that maps
// directly to an HTTP status, so handlers never hand-pick status codes.
package ragerrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies an error for status-code mapping and retry policy.
type Kind string

const (
	KindAuth             Kind = "auth"              // invalid/expired credentials -> 401
	KindForbidden        Kind = "forbidden"         // disabled user, acl denial -> 403
	KindValidation       Kind = "validation"        // missing/malformed request fields -> 400
	KindNotFound         Kind = "not_found"         // missing knowledge id/version -> 404
	KindRateLimited      Kind = "rate_limited"      // login lockout -> 429
	KindUpstreamTransient Kind = "upstream_transient" // WAF/timeout/5xx after retries -> 503
	KindUpstreamPermanent Kind = "upstream_permanent" // bad model, malformed response -> 502
	KindInternal         Kind = "internal"          // DB pool exhaustion, unexpected panic -> 500
)

// Error is a typed error carrying a Kind and a caller-facing message. The
// underlying cause is kept for logging/audit but is never serialized to
// the client.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with a caller-facing message.
func New(kind Kind, message string) *Error { return &Error{Kind: kind, Message: message} }

// Wrap constructs an Error of the given kind, preserving cause for logs.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ToHTTPStatus maps a Kind to its HTTP status code per the taxonomy.
func (k Kind) ToHTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindUpstreamPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the kind represents a transient failure that
// is worth retrying internally (LLM/embedding timeouts, WAF-like 5xxs).
func (k Kind) Retryable() bool { return k == KindUpstreamTransient }

// KindOf extracts the Kind from err, defaulting to KindInternal for
// errors not constructed via this package (never leak internals).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf extracts the caller-facing message, falling back to a generic
// message for errors not constructed via this package so internals
// (stack traces, SQL) never leak into response bodies.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// httpError is the JSON body written by WriteError.
type httpError struct {
	Error   string `json:"error"`
	Kind    Kind   `json:"kind"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError writes a status + JSON body derived from err's Kind, matching
// the handler error-writing convention used throughout the HTTP surface.
// It never writes the underlying cause, only the caller-facing message.
func WriteError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status := kind.ToHTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(httpError{
		Error: http.StatusText(status),
		Kind:  kind,
		Detail: MessageOf(err),
	})
}
