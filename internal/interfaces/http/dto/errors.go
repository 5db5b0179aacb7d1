package dto

import (
	"net/http"
	"strings"
)

// Wire error codes, ERR_<CATEGORY>_<DESCRIPTION>. The admin surface
// only ever responds with these; raw domain codes are normalized
// before serialization.

const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

const (
	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationFormat   = "ERR_VALIDATION_FORMAT"
	ErrCodeValidationRange    = "ERR_VALIDATION_RANGE"
)

const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	// ErrCodeTokenRevoked means the token was valid but blacklisted.
	ErrCodeTokenRevoked = "ERR_TOKEN_REVOKED"
)

const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

const (
	// ErrCodeInvalidState rejects operations that are valid in shape
	// but not for the resource's current state.
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeHandlerNotFound means no handler is registered for a
	// command, query or saga type.
	ErrCodeHandlerNotFound = "ERR_HANDLER_NOT_FOUND"
)

const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

const (
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
	ErrCodeTooManyRequests = "ERR_TOO_MANY_REQUESTS"
)

// ErrorCodeHTTPStatus maps every wire code to its HTTP status. Built
// from the inverse grouping because codes cluster heavily per status.
var ErrorCodeHTTPStatus = invertStatusGroups(map[int][]string{
	http.StatusBadRequest: {
		ErrCodeValidation, ErrCodeValidationRequired, ErrCodeValidationFormat, ErrCodeValidationRange,
		ErrCodeBadRequest, ErrCodeInvalidInput, ErrCodeInvalidJSON,
	},
	http.StatusUnauthorized: {
		ErrCodeUnauthorized, ErrCodeTokenExpired, ErrCodeTokenInvalid, ErrCodeTokenRevoked,
	},
	http.StatusForbidden:           {ErrCodeForbidden},
	http.StatusNotFound:            {ErrCodeNotFound},
	http.StatusConflict:            {ErrCodeAlreadyExists, ErrCodeConflict, ErrCodeConcurrencyConflict},
	http.StatusUnprocessableEntity: {ErrCodeInvalidState},
	http.StatusTooManyRequests:     {ErrCodeRateLimited, ErrCodeTooManyRequests},

	// A missing handler is a wiring bug, not a caller mistake, so it
	// surfaces as a 500
	http.StatusInternalServerError: {ErrCodeUnknown, ErrCodeInternal, ErrCodeHandlerNotFound},
})

func invertStatusGroups(groups map[int][]string) map[string]int {
	byCode := make(map[string]int)
	for status, codes := range groups {
		for _, code := range codes {
			byCode[code] = status
		}
	}
	return byCode
}

// GetHTTPStatus resolves the status for a wire code, defaulting to 500
// for anything unmapped.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// LegacyErrorCodeMapping translates bare domain codes into wire codes.
// Most legacy codes are the wire code minus the ERR_ prefix; the two
// that are not get explicit entries.
var LegacyErrorCodeMapping = func() map[string]string {
	m := map[string]string{
		"VALIDATION_ERROR": ErrCodeValidation,
		"INTERNAL_ERROR":   ErrCodeInternal,
	}
	for _, wire := range []string{
		ErrCodeNotFound, ErrCodeAlreadyExists, ErrCodeInvalidInput,
		ErrCodeInvalidState, ErrCodeUnauthorized, ErrCodeForbidden,
		ErrCodeConcurrencyConflict, ErrCodeHandlerNotFound, ErrCodeBadRequest,
	} {
		m[strings.TrimPrefix(wire, "ERR_")] = wire
	}
	return m
}()

// NormalizeErrorCode rewrites a legacy domain code to its wire form.
// Codes already in wire form, and unknown codes, pass through.
func NormalizeErrorCode(code string) string {
	if wireCode, ok := LegacyErrorCodeMapping[code]; ok {
		return wireCode
	}
	return code
}
