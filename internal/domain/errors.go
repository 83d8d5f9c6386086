package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for cohort editing and conversion. Invalid tree paths are
// deliberately NOT errors: the tree editor reports them as no-op results,
// while unresolved id references during UI-to-backend conversion are fatal
// because sending a malformed expression to the backend is unacceptable.
var (
	ErrNotFound            = errors.New("not found")
	ErrEntryExists         = errors.New("cohort already has an entry phenotype")
	ErrInvalidType         = errors.New("invalid phenotype type")
	ErrInvalidClass        = errors.New("invalid phenotype class")
	ErrUnresolvedReference = errors.New("logical expression references unknown phenotype")
	ErrUnknownNodeClass    = errors.New("unknown filter node class in logical expression")
	ErrStreamClosed        = errors.New("stream closed before a terminal message")
)

// APIError is the structured error surfaced at the HTTP boundary.
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios.
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeBackend        = "BACKEND_ERROR"
	ErrCodeConversion     = "CONVERSION_ERROR"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp.
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
