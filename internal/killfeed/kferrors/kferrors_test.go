package kferrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", NewTimeoutError("poll", time.Second), true},
		{"rate limit", NewRateLimitError(time.Second), true},
		{"transport", NewTransportError("dial", errors.New("refused")), true},
		{"validation", NewValidationError("system_id", "must be positive"), false},
		{"not found", NewNotFoundError("killmail", "123"), false},
		{"killmail", NewKillmailError(KillInvalidFormat, "123", "bad shape"), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestTransportError_Unwraps(t *testing.T) {
	inner := errors.New("connection refused")
	wrapped := NewTransportError("dial", inner)
	assert.True(t, errors.Is(wrapped, inner))
}

func TestErrorsAs_DispatchesByConcreteType(t *testing.T) {
	var err error = NewNotFoundError("killmail", "999")
	wrapped := fmt.Errorf("lookup failed: %w", err)

	var notFound *NotFoundError
	assert.True(t, errors.As(wrapped, &notFound))
	assert.Equal(t, "999", notFound.ID)

	var validation *ValidationError
	assert.False(t, errors.As(wrapped, &validation))
}

func TestKillmailError_MessageIncludesKindAndID(t *testing.T) {
	err := NewKillmailError(KillTooOld, "42", "older than retention window")
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), string(KillTooOld))
}

func TestCacheError_MessageNamesNamespace(t *testing.T) {
	err := NewCacheError("killmails", "redis unreachable")
	assert.Contains(t, err.Error(), "cache_unavailable")
	assert.Contains(t, err.Error(), "killmails")
}
