package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeIntegrity  ErrorType = "integrity"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeInternal   ErrorType = "internal"
)

// VaultError represents a structured error in the record vault
type VaultError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *VaultError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *VaultError {
	return &VaultError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *VaultError {
	return &VaultError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code, message string) *VaultError {
	return &VaultError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error. Authorization failures and
// decryption failures both surface through this constructor so a caller
// cannot tell which reason applied.
func NewForbiddenError(code, message string) *VaultError {
	return &VaultError{
		Type:    ErrorTypeForbidden,
		Code:    code,
		Message: message,
	}
}

// NewIntegrityError creates a new integrity error
func NewIntegrityError(code, message string, details map[string]interface{}) *VaultError {
	return &VaultError{
		Type:    ErrorTypeIntegrity,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(code, message string, cause error) *VaultError {
	return &VaultError{
		Type:    ErrorTypeExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *VaultError {
	return &VaultError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether err is a VaultError of the given type
func IsType(err error, t ErrorType) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Type == t
	}
	return false
}

// IsForbidden reports whether err is a forbidden error
func IsForbidden(err error) bool { return IsType(err, ErrorTypeForbidden) }

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return IsType(err, ErrorTypeConflict) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }

// IsIntegrity reports whether err is an integrity error
func IsIntegrity(err error) bool { return IsType(err, ErrorTypeIntegrity) }

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeIntegrityFailed   = "INTEGRITY_FAILED"
	ErrCodeLedgerUnavailable = "LEDGER_UNAVAILABLE"
	ErrCodeBlobStoreFailed   = "BLOB_STORE_FAILED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)
