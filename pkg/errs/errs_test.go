package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"table not allowed is terminal", &TableNotAllowedError{Table: "secrets", Op: "read"}, false},
		{"permission error is terminal", &PersistencePermissionError{Op: "write"}, false},
		{"validation error is terminal", &ValidationError{Reason: "bad payload"}, false},
		{"flow unknown is terminal", &FlowUnknownError{Flow: "ghost_flow"}, false},
		{"transient adapter error is retryable", &AdapterError{Op: "query", Table: "leads", Transient: true, Cause: errors.New("timeout")}, true},
		{"permanent adapter error is terminal", &AdapterError{Op: "query", Table: "leads", Transient: false, Cause: errors.New("bad sql")}, false},
		{"unknown error is retryable", &UnknownError{Cause: errors.New("panic: nil map")}, true},
		{"rate limited is retryable", &RateLimited{Window: "1m"}, true},
		{"plain error is retryable", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAdapterError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &AdapterError{Op: "read", Table: "leads", Transient: true, Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestUnknownError_Unwrap(t *testing.T) {
	cause := errors.New("nil pointer")
	err := &UnknownError{Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&TableNotAllowedError{Table: "secrets", Op: "read"}).Error(), "secrets")
	assert.Contains(t, (&PersistencePermissionError{Op: "write"}).Error(), "write")
	assert.Contains(t, (&ValidationError{Reason: "missing id"}).Error(), "missing id")
	assert.Contains(t, (&FlowUnknownError{Flow: "ghost_flow"}).Error(), "ghost_flow")
	assert.Contains(t, (&RateLimited{Window: "1m"}).Error(), "1m")
}
