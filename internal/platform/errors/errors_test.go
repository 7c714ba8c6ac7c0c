package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad event"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("poll not found"), TypeNotFound, http.StatusNotFound},
		{"rate limited", RateLimitedError("too many connections"), TypeRateLimited, http.StatusTooManyRequests},
		{"unavailable", UnavailableError("bus down", errors.New("dial tcp")), TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", InternalError("boom", nil), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("backend failed", errors.New("timeout")), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestUnknownTypeIsInternal(t *testing.T) {
	err := &Error{Type: "mystery", Message: "?"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestError_IncludesCause(t *testing.T) {
	cause := fmt.Errorf("redis: connection refused")
	err := UnavailableError("failed to publish event", cause)

	assert.Contains(t, err.Error(), "failed to publish event")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithField_Chainable(t *testing.T) {
	err := ValidationError("unknown option").
		WithField("poll_id", "p1").
		WithField("option_id", "o9")

	assert.Equal(t, "p1", err.Context["poll_id"])
	assert.Equal(t, "o9", err.Context["option_id"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "x"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestToResponse(t *testing.T) {
	resp := NotFoundError("poll not found").WithField("poll_id", "p1").ToResponse()

	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "poll not found", resp.Message)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "p1", resp.Context["poll_id"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ValidationError("bad")
	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("plain")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.ErrorIs(t, converted, plain)
}
