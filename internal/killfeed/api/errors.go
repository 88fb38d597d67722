package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
)

// ErrorBody is the envelope every non-2xx response carries, reshaped
// from pkg/handlers/responses.go's StandardResponse into the
// {error:{...}, timestamp} shape.
type ErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code"`
		Details string `json:"details,omitempty"`
	} `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError implements huma.StatusError so handlers can return a typed
// kferrors value directly and have it render as ErrorBody.
type APIError struct {
	status int
	body   ErrorBody
}

func (e *APIError) Error() string  { return e.body.Error.Message }
func (e *APIError) GetStatus() int { return e.status }

// NewAPIError wraps any error into the API's error envelope, mapping
// kferrors' typed taxonomy onto HTTP status codes.
func NewAPIError(err error) *APIError {
	status, kind := classify(err)
	e := &APIError{status: status}
	e.body.Error.Type = kind
	e.body.Error.Message = err.Error()
	e.body.Error.Code = status
	e.body.Timestamp = time.Now()
	return e
}

func classify(err error) (status int, kind string) {
	var notFound *kferrors.NotFoundError
	var validation *kferrors.ValidationError
	var rateLimit *kferrors.RateLimitError
	var timeout *kferrors.TimeoutError
	var killErr *kferrors.KillmailError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &killErr):
		return http.StatusBadRequest, "invalid_killmail"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
