package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// rateLimited mimics an upstream error that matches both the API and rate-limit sentinels.
type rateLimited struct{}

func (rateLimited) Error() string { return "status 429" }
func (rateLimited) Is(target error) bool {
	return target == ErrAPI || target == ErrRateLimited
}

func TestAppErrorIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewAppError(CodeImageDecode, "decode image", errors.New("bad header")))

	assert.ErrorIs(t, err, ErrImageDecode)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, CodeImageDecode, ErrorCode(err))
	assert.EqualError(t, err, "outer: IMAGE_DECODE_ERROR: decode image: bad header")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"config", NewAppError(CodeConfig, "missing key", nil), CodeConfig},
		{"rate limited wins", rateLimited{}, CodeRateLimited},
		{"wrapped envelope", WrapError(NewAppError(CodeEnvelope, "no choices", nil), "interpret"), CodeEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("send: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(NewAppError(CodeTransport, "send request", timeoutErr{})))
	assert.False(t, IsTimeout(NewAppError(CodeTransport, "send request", errors.New("connection refused"))))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"config", NewAppError(CodeConfig, "", nil), http.StatusServiceUnavailable},
		{"decode", NewAppError(CodeImageDecode, "", nil), http.StatusUnprocessableEntity},
		{"invalid input", NewAppError(CodeInvalidInput, "", nil), http.StatusUnprocessableEntity},
		{"rate limited", rateLimited{}, http.StatusTooManyRequests},
		{"transport timeout", NewAppError(CodeTransport, "", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"transport", NewAppError(CodeTransport, "", errors.New("refused")), http.StatusBadGateway},
		{"api", NewAppError(CodeAPI, "", nil), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestToGRPCStatus(t *testing.T) {
	require.NoError(t, ToGRPCStatus(nil))
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"config", NewAppError(CodeConfig, "", nil), codes.FailedPrecondition},
		{"decode", NewAppError(CodeImageDecode, "", nil), codes.InvalidArgument},
		{"rate limited", rateLimited{}, codes.ResourceExhausted},
		{"timeout", NewAppError(CodeTransport, "", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"transport", NewAppError(CodeTransport, "", errors.New("refused")), codes.Unavailable},
		{"envelope", NewAppError(CodeEnvelope, "", nil), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(ToGRPCStatus(tt.err)))
		})
	}
}

func TestInvalidArgumentErrorf(t *testing.T) {
	err := InvalidArgumentErrorf("image is %d bytes", 42)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, "image is 42 bytes", st.Message())
}
