package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veriguard/veriguard/models"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NotFound("no challenge for token")

	assert.True(t, errors.Is(err, NotFound("")))
	assert.False(t, errors.Is(err, Expired("")))
}

func TestErrorIsSurvivesWrapping(t *testing.T) {
	inner := AlreadyVerified("challenge already consumed")
	wrapped := fmt.Errorf("verify failed: %w", inner)

	assert.True(t, errors.Is(wrapped, AlreadyVerified("")))
	assert.Equal(t, KindAlreadyVerified, KindOf(wrapped))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := DependencyUnavailable("reputation provider down", cause)

	assert.ErrorIs(t, err, DependencyUnavailable("", nil))
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{InvalidInput("missing siteKey"), http.StatusBadRequest},
		{NotFound("unknown token"), http.StatusNotFound},
		{Expired("challenge expired"), http.StatusGone},
		{AlreadyVerified("token reused"), http.StatusConflict},
		{PolicyBlocked("ip blacklisted", models.SeverityCritical), http.StatusForbidden},
		{DependencyUnavailable("redis down", nil), http.StatusServiceUnavailable},
		{Internal("insert failed", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), "for %v", tt.err)
	}
}
