package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes of the analysis taxonomy.
const (
	CodeConfig       = "CONFIG_ERROR"
	CodeImageDecode  = "IMAGE_DECODE_ERROR"
	CodeTransport    = "TRANSPORT_ERROR"
	CodeAPI          = "API_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
	CodeEnvelope     = "ENVELOPE_ERROR"
	CodeParse        = "PARSE_ERROR"
	CodeInvalidInput = "INVALID_INPUT"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any *AppError with the same Code, so the sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrConfig       = &AppError{Code: CodeConfig}
	ErrImageDecode  = &AppError{Code: CodeImageDecode}
	ErrTransport    = &AppError{Code: CodeTransport}
	ErrAPI          = &AppError{Code: CodeAPI}
	ErrRateLimited  = &AppError{Code: CodeRateLimited}
	ErrEnvelope     = &AppError{Code: CodeEnvelope}
	ErrParse        = &AppError{Code: CodeParse}
	ErrInvalidInput = &AppError{Code: CodeInvalidInput}
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorCode returns the taxonomy code of err, or "" when err is not an AppError.
// Rate limiting wins over the generic API code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	for _, s := range []*AppError{ErrConfig, ErrImageDecode, ErrTransport, ErrAPI, ErrEnvelope, ErrParse, ErrInvalidInput} {
		if errors.Is(err, s) {
			return s.Code
		}
	}
	return ""
}

// IsTimeout reports a deadline or client timeout anywhere in the chain.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HTTPStatus maps an analysis error onto the status the HTTP API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConfig):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrImageDecode), errors.Is(err, ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransport) && IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransport), errors.Is(err, ErrAPI):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ToGRPCStatus converts an analysis error into a gRPC status error.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var c codes.Code
	switch {
	case errors.Is(err, ErrConfig):
		c = codes.FailedPrecondition
	case errors.Is(err, ErrImageDecode), errors.Is(err, ErrInvalidInput):
		c = codes.InvalidArgument
	case errors.Is(err, ErrRateLimited):
		c = codes.ResourceExhausted
	case IsTimeout(err):
		c = codes.DeadlineExceeded
	case errors.Is(err, ErrTransport):
		c = codes.Unavailable
	default:
		c = codes.Internal
	}
	return status.Error(c, err.Error())
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
