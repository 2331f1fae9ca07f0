package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHelpersSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("link: %w", Cycle("a", "b", []string{"b", "a"}))

	assert.True(t, IsCycle(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, CodeCycle, CodeOf(err))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Persistence(cause, "append update")

	assert.Equal(t, "PERSISTENCE: append update: disk I/O error", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestDetails(t *testing.T) {
	err := Tamper("org:acme", 4, "hash mismatch")

	assert.Equal(t, int64(4), err.Details["first_divergence"])
	assert.Equal(t, "org:acme", err.Details["scope_id"])
	assert.True(t, IsTamper(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:  http.StatusBadRequest,
		CodeNotFound:    http.StatusNotFound,
		CodeCycle:       http.StatusConflict,
		CodeConflict:    http.StatusConflict,
		CodeGateDenied:  http.StatusForbidden,
		CodePersistence: http.StatusServiceUnavailable,
		CodeTamper:      http.StatusInternalServerError,
		CodeInternal:    http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}
