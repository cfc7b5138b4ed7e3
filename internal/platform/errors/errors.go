// Package errors provides the structured error type used across the registry
// node's core packages, mapping directly onto the error kinds of §7.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a stable error kind, independent of its message.
type ErrorCode string

const (
	ErrCodeInvalid         ErrorCode = "INVALID"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeAnchorFailed    ErrorCode = "ANCHOR_FAILED"
	ErrCodePeerUnreachable ErrorCode = "PEER_UNREACHABLE"
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"
	ErrCodeFatal           ErrorCode = "FATAL"
)

// ServiceError is a structured error carrying a stable code, an HTTP status,
// and optional details for the caller. It corresponds to the error kinds of
// §7 (Invalid, Conflict, RateLimited, NotFound, AnchorFailed, PeerUnreachable,
// Fatal); there is deliberately no separate Go type per kind.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches an additional detail key/value and returns the error
// for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError without a wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError around an underlying cause.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Invalid reports a malformed request or an internally inconsistent hash
// (spec §4.5 step 4, §7 Invalid).
func Invalid(field, reason string) *ServiceError {
	return New(ErrCodeInvalid, "invalid request", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// Conflict reports a duplicate proof (§4.5 step 3, §7 Conflict).
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// RateLimited reports denial by the Reputation & Rate Engine, carrying the
// caller's current observed rate (§4.4, §7 RateLimited).
func RateLimited(reason string, currentRate int) *ServiceError {
	return New(ErrCodeRateLimited, reason, http.StatusTooManyRequests).
		WithDetails("currentRate", currentRate)
}

// NotFound reports an unknown hash/batch/identity (§7 NotFound).
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// AnchorFailed reports a chain anchoring failure surviving all retries,
// carrying a normalized reason and remediation hint (§4.7, §7 AnchorFailed).
func AnchorFailed(chain, reason, hint string, err error) *ServiceError {
	return Wrap(ErrCodeAnchorFailed, "anchoring failed", http.StatusServiceUnavailable, err).
		WithDetails("chain", chain).
		WithDetails("reason", reason).
		WithDetails("hint", hint)
}

// PeerUnreachable reports a federation peer that could not be reached; sync
// continues with other peers (§4.8, §7 PeerUnreachable).
func PeerUnreachable(peer string, err error) *ServiceError {
	return Wrap(ErrCodePeerUnreachable, "peer unreachable", http.StatusBadGateway, err).
		WithDetails("peer", peer)
}

// Unavailable reports a transient Store failure (§4.1).
func Unavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeUnavailable, "store unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// Fatal reports Store corruption; the caller is expected to exit (§7 Fatal).
func Fatal(message string, err error) *ServiceError {
	return Wrap(ErrCodeFatal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err carries a *ServiceError anywhere in its chain.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// As extracts a *ServiceError from an error chain, or nil.
func As(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Code returns the ErrorCode of err, or "" if err does not carry one.
func Code(err error) ErrorCode {
	if svcErr := As(err); svcErr != nil {
		return svcErr.Code
	}
	return ""
}

// HTTPStatus returns the HTTP status to surface for err.
func HTTPStatus(err error) int {
	if svcErr := As(err); svcErr != nil {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
