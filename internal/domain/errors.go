package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorCode is the stable, machine-readable kind of a business failure
type ErrorCode string

const (
	CodeInvalidAmount           ErrorCode = "INVALID_AMOUNT"
	CodeCreditLimitExceeded     ErrorCode = "CREDIT_LIMIT_EXCEEDED"
	CodeCustomerNotFound        ErrorCode = "CUSTOMER_NOT_FOUND"
	CodeCustomerNameRequired    ErrorCode = "CUSTOMER_NAME_REQUIRED"
	CodeBalanceUpdateFailed     ErrorCode = "BALANCE_UPDATE_FAILED"
	CodeTransactionRecordFailed ErrorCode = "TRANSACTION_RECORD_FAILED"
	CodeInvalidAdjustment       ErrorCode = "INVALID_ADJUSTMENT"
	CodeInvalidReversal         ErrorCode = "INVALID_REVERSAL"
	CodeInsufficientStock       ErrorCode = "INSUFFICIENT_STOCK"
	CodeDatabaseError           ErrorCode = "DATABASE_ERROR"
	CodeTransactionCancelled    ErrorCode = "TRANSACTION_CANCELLED"
	CodeValidation              ErrorCode = "VALIDATION_ERROR"
	CodeProductNotFound         ErrorCode = "PRODUCT_NOT_FOUND"
	CodeOrderTooLarge           ErrorCode = "ORDER_TOO_LARGE"
	CodeIdempotencyKeyRequired  ErrorCode = "IDEMPOTENCY_KEY_REQUIRED"
	CodeIdempotencyKeyMismatch  ErrorCode = "IDEMPOTENCY_KEY_MISMATCH"
)

// Error is a coded sentinel. Compare with errors.Is.
type Error struct {
	code    ErrorCode
	message string
}

func newError(code ErrorCode, message string) *Error {
	return &Error{code: code, message: message}
}

func (e *Error) Error() string { return e.message }

// Code returns the error kind
func (e *Error) Code() ErrorCode { return e.code }

// ErrorCode returns the code as a string for transport mapping
func (e *Error) ErrorCode() string { return string(e.code) }

var (
	ErrInvalidAmount           = newError(CodeInvalidAmount, "amount must be positive")
	ErrCreditLimitExceeded     = newError(CodeCreditLimitExceeded, "credit limit exceeded")
	ErrCustomerNotFound        = newError(CodeCustomerNotFound, "customer not found")
	ErrCustomerNameRequired    = newError(CodeCustomerNameRequired, "customer name is required for a new customer")
	ErrBalanceUpdateFailed     = newError(CodeBalanceUpdateFailed, "balance update failed")
	ErrTransactionRecordFailed = newError(CodeTransactionRecordFailed, "transaction record failed")
	ErrInvalidAdjustment       = newError(CodeInvalidAdjustment, "invalid adjustment")
	ErrInvalidReversal         = newError(CodeInvalidReversal, "invalid reversal")
	ErrInsufficientStock       = newError(CodeInsufficientStock, "insufficient stock")
	ErrDatabase                = newError(CodeDatabaseError, "database error")
	ErrTransactionCancelled    = newError(CodeTransactionCancelled, "transaction cancelled")
	ErrValidation              = newError(CodeValidation, "validation failed")
	ErrProductNotFound         = newError(CodeProductNotFound, "product not found")
	ErrOrderTooLarge           = newError(CodeOrderTooLarge, "order exceeds the maximum number of items per transaction")
	ErrIdempotencyKeyRequired  = newError(CodeIdempotencyKeyRequired, "idempotency key is required")
	ErrIdempotencyKeyMismatch  = newError(CodeIdempotencyKeyMismatch, "idempotency key was used with different parameters")

	// ErrVersionConflict is returned by conditional writes whose expected
	// version no longer matches. Callers re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrTransactionNotFound is returned when a ledger lookup misses
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned when a ledger append collides with
	// an existing record (same id, or a second reversal of one original)
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// CodeOf extracts the error kind from err. Unknown errors are storage failures.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return ErrorCode(coded.ErrorCode())
	}
	return CodeDatabaseError
}

// CreditLimitExceededError carries the credit still available to the customer
type CreditLimitExceededError struct {
	Limit     Money
	Current   Money
	Available Money
	Requested Money
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded: available %s, requested %s", e.Available, e.Requested)
}

func (e *CreditLimitExceededError) Unwrap() error     { return ErrCreditLimitExceeded }
func (e *CreditLimitExceededError) ErrorCode() string { return string(CodeCreditLimitExceeded) }

func (e *CreditLimitExceededError) ErrorDetails() map[string]string {
	return map[string]string{
		"creditLimit":     e.Limit.String(),
		"currentBalance":  e.Current.String(),
		"availableCredit": e.Available.String(),
		"requested":       e.Requested.String(),
	}
}

// InsufficientStockError reports the stock observed after a failed conditional decrement
type InsufficientStockError struct {
	ProductID string
	Current   int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: current %d, requested %d, shortfall %d",
		e.ProductID, e.Current, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error     { return ErrInsufficientStock }
func (e *InsufficientStockError) ErrorCode() string { return string(CodeInsufficientStock) }

func (e *InsufficientStockError) ErrorDetails() map[string]string {
	return map[string]string{
		"productId":    e.ProductID,
		"currentStock": strconv.FormatInt(e.Current, 10),
		"requested":    strconv.FormatInt(e.Requested, 10),
		"shortfall":    strconv.FormatInt(e.Shortfall, 10),
	}
}

// NewInsufficientStockError computes the shortfall for a decrement of requested units
func NewInsufficientStockError(productID string, current, requested int64) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID: productID,
		Current:   current,
		Requested: requested,
		Shortfall: requested - current,
	}
}

// ItemFailure explains why one line of a bulk stock change could not be applied
type ItemFailure struct {
	Index        int       `json:"index"`
	ProductID    string    `json:"productId"`
	Code         ErrorCode `json:"code"`
	Reason       string    `json:"reason"`
	CurrentStock int64     `json:"currentStock"`
	Requested    int64     `json:"requested"`
	Shortfall    int64     `json:"shortfall,omitempty"`
}

// NewItemFailure describes why line index of a batch was rejected
func NewItemFailure(index int, line OrderLine, err error) ItemFailure {
	f := ItemFailure{
		Index:     index,
		ProductID: line.ProductID,
		Code:      CodeOf(err),
		Reason:    err.Error(),
		Requested: -line.Delta,
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		f.CurrentStock = stockErr.Current
		f.Shortfall = stockErr.Shortfall
	}
	return f
}

// TransactionCancelledError is returned when a bulk stock transaction was
// aborted. Failures lists every offending line in input order.
type TransactionCancelledError struct {
	Failures []ItemFailure
	Cause    error
}

func (e *TransactionCancelledError) Error() string {
	if len(e.Failures) == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("transaction cancelled: %v", e.Cause)
		}
		return "transaction cancelled"
	}
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, fmt.Sprintf("%s (%s)", f.ProductID, f.Code))
	}
	return "transaction cancelled: " + strings.Join(ids, ", ")
}

func (e *TransactionCancelledError) Unwrap() error     { return ErrTransactionCancelled }
func (e *TransactionCancelledError) ErrorCode() string { return string(CodeTransactionCancelled) }

func (e *TransactionCancelledError) ErrorDetails() map[string]string {
	details := make(map[string]string, len(e.Failures))
	for _, f := range e.Failures {
		details[f.ProductID] = f.Reason
	}
	return details
}

// FieldError marks a command field that failed validation
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error     { return ErrValidation }
func (e *FieldError) ErrorCode() string { return string(CodeValidation) }

func (e *FieldError) ErrorDetails() map[string]string {
	return map[string]string{e.Field: e.Message}
}

// NewFieldError creates a validation failure for a single field
func NewFieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

// IsClientError reports failures caused by the request rather than the system
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeDatabaseError, CodeBalanceUpdateFailed, CodeTransactionRecordFailed:
		return false
	default:
		return err != nil
	}
}
