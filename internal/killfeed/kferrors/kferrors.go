// Package kferrors implements the error taxonomy used across the killfeed
// pipeline: a small set of typed errors callers can dispatch on with
// errors.As, instead of inspecting error strings or bare HTTP codes.
package kferrors

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is bad input at a boundary. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError is a resource absent upstream. May be cached short-term.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// TimeoutError is an operation that exceeded its deadline. Retried with
// backoff up to budget.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
}

func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// RateLimitError means upstream told us to slow down.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func NewRateLimitError(retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfter}
}

// TransportError is a network/connection failure. Retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// CacheError means the backing store is not available. Callers fall
// through to direct computation; they never fail because of this.
type CacheError struct {
	Namespace string
	Reason    string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache_unavailable: namespace %q: %s", e.Namespace, e.Reason)
}

func NewCacheError(namespace, reason string) *CacheError {
	return &CacheError{Namespace: namespace, Reason: reason}
}

// KillmailErrorKind enumerates the KillmailError subtypes from spec §7.
type KillmailErrorKind string

const (
	KillInvalidFormat          KillmailErrorKind = "invalid_format"
	KillMissingRequiredFields  KillmailErrorKind = "missing_required_fields"
	KillTooOld                 KillmailErrorKind = "kill_too_old"
	KillEnrichmentFailed       KillmailErrorKind = "enrichment_failed"
)

// KillmailError wraps a pipeline-stage failure tied to one upstream id.
// KillTooOld is expected traffic, not a true error — callers treat it as
// a "skipped" outcome rather than logging at error level.
type KillmailError struct {
	Kind       KillmailErrorKind
	UpstreamID string
	Message    string
}

func (e *KillmailError) Error() string {
	return fmt.Sprintf("killmail %s: %s: %s", e.UpstreamID, e.Kind, e.Message)
}

func NewKillmailError(kind KillmailErrorKind, upstreamID, message string) *KillmailError {
	return &KillmailError{Kind: kind, UpstreamID: upstreamID, Message: message}
}

// FatalError means an invariant was violated. The process should be
// allowed to crash so its supervisor restarts it clean.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s", e.Message)
}

func NewFatalError(message string) *FatalError {
	return &FatalError{Message: message}
}

// IsRetryable reports whether a typed error's class is worth retrying
// under the standard backoff policy (TimeoutError, RateLimitError,
// TransportError). ValidationError, NotFoundError, and KillmailError
// are never retried.
func IsRetryable(err error) bool {
	var timeoutErr *TimeoutError
	var rateLimitErr *RateLimitError
	var transportErr *TransportError
	return errors.As(err, &timeoutErr) || errors.As(err, &rateLimitErr) || errors.As(err, &transportErr)
}
