package gateway

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies the pipeline stage that rejected a request.
type ErrorCode string

const (
	ErrCodeInvalidPath        ErrorCode = "INVALID_PATH"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeServiceNotFound    ErrorCode = "SERVICE_NOT_FOUND"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Authentication failure reasons, surfaced verbatim to callers.
const (
	ReasonMissingToken     = "missing_token"
	ReasonTokenBlacklisted = "blacklisted"
	ReasonTokenExpired     = "expired"
	ReasonTokenInvalid     = "invalid"
)

// Error is the typed error every pipeline stage returns on rejection.
// The gateway never retries on any of these; retry policy belongs to the
// caller or the orchestration layer.
type Error struct {
	Code      ErrorCode
	Status    int
	Message   string
	Reason    string
	RateLimit *RateLimitDecision
	cause     error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

func ErrInvalidPath(message string) *Error {
	return &Error{Code: ErrCodeInvalidPath, Status: http.StatusBadRequest, Message: message}
}

func ErrUnauthorized(reason, message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Status: http.StatusUnauthorized, Reason: reason, Message: message}
}

func ErrRateLimited(decision RateLimitDecision) *Error {
	return &Error{
		Code:      ErrCodeRateLimited,
		Status:    http.StatusTooManyRequests,
		Message:   "Rate limit exceeded",
		RateLimit: &decision,
	}
}

func ErrServiceNotFound(service string) *Error {
	return &Error{
		Code:    ErrCodeServiceNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Service '%s' not found or unhealthy", service),
	}
}

func ErrServiceUnavailable(service string) *Error {
	return &Error{
		Code:    ErrCodeServiceUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: fmt.Sprintf("Service '%s' temporarily unavailable", service),
	}
}

func ErrUpstream(status int, message string, cause error) *Error {
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return &Error{Code: ErrCodeUpstreamError, Status: status, Message: message, cause: cause}
}

func ErrInternal(cause error) *Error {
	return &Error{
		Code:    ErrCodeInternal,
		Status:  http.StatusInternalServerError,
		Message: "Internal gateway error",
		cause:   cause,
	}
}

// RateLimitDecision is the outcome of an hourly quota check.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
