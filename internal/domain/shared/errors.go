package shared

// DomainError is a business-rule failure with a stable machine code.
// The HTTP layer maps codes onto status codes and wire error codes.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code, so errors.Is
// works against the sentinels below even for errors built with a
// custom message.
func (e *DomainError) Is(target error) bool {
	other, ok := target.(*DomainError)
	return ok && other.Code == e.Code
}

// NewDomainError builds a DomainError with a caller-supplied message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Sentinels for the failure modes shared across domains.
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrHandlerNotFound     = NewDomainError("HANDLER_NOT_FOUND", "No handler registered for this type")
)
