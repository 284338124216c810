package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("503"), 503), true},
		{"wrapped", fmt.Errorf("call: %w", NewTransientError(errors.New("429"), 429)), true},
		{"regular", errors.New("bad request"), false},
		{"connection reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"i/o timeout text", errors.New("read tcp: i/o timeout"), true},
		{"overloaded text", errors.New("overloaded_error: Overloaded"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("x: %w", NewPermanentError(errors.New("denied"), 403))))
	assert.True(t, IsRetryable(errors.New("no json in completion")))
	assert.True(t, IsRetryable(NewTransientError(errors.New("429"), 429)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("api error")

	var te *TransientError
	assert.True(t, errors.As(ClassifyStatus(base, 429), &te))
	assert.Equal(t, 429, te.StatusCode)

	var pe *PermanentError
	assert.True(t, errors.As(ClassifyStatus(base, 401), &pe))
	assert.Equal(t, 401, pe.StatusCode)

	assert.Equal(t, base, ClassifyStatus(base, 0))
	assert.Equal(t, base, ClassifyStatus(base, 418))
	assert.Nil(t, ClassifyStatus(nil, 500))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, "permanent", ClassifyError(errors.New("schema mismatch")))
	assert.Equal(t, "transient", ClassifyError(&OpenError{Provider: "anthropic", RetryAfter: time.Minute}))
}

func TestWrappers_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, NewTransientError(inner, 500), inner)
	assert.ErrorIs(t, NewPermanentError(inner, 401), inner)
	assert.Equal(t, "inner", NewTransientError(inner, 500).Error())
	assert.Equal(t, "inner", NewPermanentError(inner, 401).Error())
}
