package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Standard error codes
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
)

// AppError represents an application error with HTTP status and error code
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Wrap wraps an existing error
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates a new AppError
func NewAppError(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return NewAppError(CodeValidationError, message, http.StatusBadRequest)
}

// ErrValidationWithFields creates a validation error with field details
func ErrValidationWithFields(message string, fields map[string]string) *AppError {
	return ErrValidation(message).WithDetails(fields)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// ErrInternal creates an internal error
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return NewAppError(CodeInternalError, message, http.StatusInternalServerError)
}

// ErrBadRequest creates a bad request error
func ErrBadRequest(message string) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest)
}

// ErrTimeout creates a timeout error
func ErrTimeout(operation string) *AppError {
	return NewAppError(CodeTimeout, fmt.Sprintf("%s timed out", operation), http.StatusGatewayTimeout)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Coded is implemented by domain errors that carry a stable machine code.
type Coded interface {
	error
	ErrorCode() string
}

// Detailed is implemented by domain errors that expose structured details.
type Detailed interface {
	ErrorDetails() map[string]string
}

var (
	statusMu sync.RWMutex
	statuses = map[string]int{
		CodeValidationError:    http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeConflict:           http.StatusConflict,
		CodeBadRequest:         http.StatusBadRequest,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeTimeout:            http.StatusGatewayTimeout,
	}
)

// RegisterStatus binds a domain error code to the HTTP status it is served with.
func RegisterStatus(code string, status int) {
	statusMu.Lock()
	defer statusMu.Unlock()
	statuses[code] = status
}

// StatusFor returns the HTTP status registered for code, or 500.
func StatusFor(code string) int {
	statusMu.RLock()
	defer statusMu.RUnlock()
	if s, ok := statuses[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// MapDomainError converts err into an AppError. Errors carrying a Coded value
// keep its code and the full wrapped message; deadlines become timeouts and
// everything else becomes an internal error.
func MapDomainError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	var coded Coded
	if errors.As(err, &coded) {
		appErr := NewAppError(coded.ErrorCode(), err.Error(), StatusFor(coded.ErrorCode())).Wrap(err)
		var detailed Detailed
		if errors.As(err, &detailed) {
			if d := detailed.ErrorDetails(); len(d) > 0 {
				appErr.WithDetails(d)
			}
		}
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout("request").Wrap(err)
	}
	return ErrInternal("").Wrap(err)
}
