package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidInput      ErrorType = "invalid_input"
	ErrorTypeDimensionMismatch ErrorType = "dimension_mismatch"
	ErrorTypeDegenerateStratum ErrorType = "degenerate_stratum"
	ErrorTypeConfiguration     ErrorType = "configuration"
	ErrorTypeStorage           ErrorType = "storage"
	ErrorTypeInternal          ErrorType = "internal"
)

// Error codes for different error scenarios
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeDimensionMismatch    = "DIMENSION_MISMATCH"
	CodeDegenerateStratum    = "DEGENERATE_STRATUM"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeReadFailed           = "READ_FAILED"
	CodeWriteFailed          = "WRITE_FAILED"
	CodeArtifactNotFound     = "ARTIFACT_NOT_FOUND"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Sentinel errors. Every AppError built by the constructors below matches the
// sentinel of its category through errors.Is.
var (
	ErrInvalidInput         = NewAppError(ErrorTypeInvalidInput, CodeInvalidInput, "invalid input")
	ErrDimensionMismatch    = NewAppError(ErrorTypeDimensionMismatch, CodeDimensionMismatch, "dimension mismatch")
	ErrDegenerateStratum    = NewAppError(ErrorTypeDegenerateStratum, CodeDegenerateStratum, "degenerate stratum")
	ErrInvalidConfiguration = NewAppError(ErrorTypeConfiguration, CodeInvalidConfiguration, "invalid configuration")
	ErrStorageReadFailed    = NewAppError(ErrorTypeStorage, CodeReadFailed, "storage read failed")
	ErrStorageWriteFailed   = NewAppError(ErrorTypeStorage, CodeWriteFailed, "storage write failed")
	ErrArtifactNotFound     = NewAppError(ErrorTypeStorage, CodeArtifactNotFound, "artifact not found")
	ErrInternal             = NewAppError(ErrorTypeInternal, CodeInternalError, "internal error")
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s - %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewInvalidInputError reports non-numeric or malformed data.
func NewInvalidInputError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrorTypeInvalidInput, CodeInvalidInput, fmt.Sprintf(format, args...))
}

// NewDimensionMismatchError reports a stratum summary whose tables disagree.
func NewDimensionMismatchError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrorTypeDimensionMismatch, CodeDimensionMismatch, fmt.Sprintf(format, args...))
}

// NewDegenerateStratumError reports a covariance that could not be repaired.
func NewDegenerateStratumError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrorTypeDegenerateStratum, CodeDegenerateStratum, fmt.Sprintf(format, args...))
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrorTypeConfiguration, CodeInvalidConfiguration, fmt.Sprintf(format, args...))
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// IsFatalForUnit reports whether err only invalidates the variable or stratum
// it was raised for, so siblings can continue.
func IsFatalForUnit(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrDegenerateStratum)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, internal otherwise.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsNotFound reports whether err is a missing artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}

// HTTPStatus maps err to the status code an API response should carry.
func HTTPStatus(err error) int {
	if IsNotFound(err) {
		return 404
	}
	switch TypeOf(err) {
	case ErrorTypeInvalidInput, ErrorTypeDimensionMismatch:
		return 400
	case ErrorTypeDegenerateStratum:
		return 422
	case ErrorTypeConfiguration:
		return 503
	default:
		return 500
	}
}
