package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType identifies the kind of committed balance change
type TransactionType string

const (
	TransactionTypeCreditSale TransactionType = "credit_sale"
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeAdjustment TransactionType = "adjustment"
	TransactionTypeReversal   TransactionType = "reversal"
)

// IDPrefix returns the transaction id prefix for the type
func (t TransactionType) IDPrefix() string {
	switch t {
	case TransactionTypeCreditSale:
		return "CS"
	case TransactionTypePayment:
		return "PAY"
	case TransactionTypeAdjustment:
		return "ADJ"
	case TransactionTypeReversal:
		return "REV"
	default:
		return "TXN"
	}
}

// NewTransactionID creates a unique, type-prefixed transaction id
func NewTransactionID(t TransactionType) string {
	return newPrefixedID(t.IDPrefix())
}

func newPrefixedID(prefix string) string {
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("%s-%s-%s", prefix, timestamp, uuid.New().String()[:8])
}

// Metadata keys recorded on transactions
const (
	MetaDirection        = "direction"
	MetaAdjustmentType   = "adjustment_type"
	MetaPaymentMethod    = "payment_method"
	MetaPaymentReference = "payment_reference"
	MetaOrderID          = "order_id"
	MetaReason           = "reason"
)

// Adjustment directions
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
)

// AdjustmentType classifies a manual balance adjustment
type AdjustmentType string

const (
	AdjustmentCorrection AdjustmentType = "correction"
	AdjustmentWriteOff   AdjustmentType = "write_off"
	AdjustmentDiscount   AdjustmentType = "discount"
	AdjustmentFee        AdjustmentType = "fee"
)

// Valid reports whether t is a known adjustment type
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentCorrection, AdjustmentWriteOff, AdjustmentDiscount, AdjustmentFee:
		return true
	}
	return false
}

// PaymentMethod is how a customer settled their tab
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentUPI          PaymentMethod = "upi"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentCard, PaymentBankTransfer, PaymentOther:
		return true
	}
	return false
}

// LineItem is an optional description of what was sold on credit
type LineItem struct {
	ProductID string `bson:"productId" json:"productId"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
	Quantity  int64  `bson:"quantity" json:"quantity"`
	UnitPrice Money  `bson:"unitPrice" json:"unitPrice"`
}

// TransactionRecord is the immutable audit entry of one committed balance change.
// Amount is always positive; BalanceAfter - BalanceBefore is the signed effect.
type TransactionRecord struct {
	TransactionID  string            `bson:"transactionId" json:"transactionId"`
	StoreID        string            `bson:"storeId" json:"storeId"`
	CustomerPhone  string            `bson:"customerPhone" json:"customerPhone"`
	Type           TransactionType   `bson:"type" json:"type"`
	Amount         Money             `bson:"amount" json:"amount"`
	BalanceBefore  Money             `bson:"balanceBefore" json:"balanceBefore"`
	BalanceAfter   Money             `bson:"balanceAfter" json:"balanceAfter"`
	ReferenceID    string            `bson:"referenceId,omitempty" json:"referenceId,omitempty"`
	IdempotencyKey string            `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	Notes          string            `bson:"notes,omitempty" json:"notes,omitempty"`
	Metadata       map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Items          []LineItem        `bson:"items,omitempty" json:"items,omitempty"`
	CreatedBy      string            `bson:"createdBy" json:"createdBy"`
	CreatedAt      time.Time         `bson:"createdAt" json:"createdAt"`
}

// SignedEffect is the change this record applied to the outstanding balance
func (t *TransactionRecord) SignedEffect() Money {
	return t.BalanceAfter.Sub(t.BalanceBefore)
}

// Direction returns the recorded direction of an adjustment, falling back to the
// signed effect for records written without metadata.
func (t *TransactionRecord) Direction() string {
	if d, ok := t.Metadata[MetaDirection]; ok && d != "" {
		return d
	}
	if t.SignedEffect().IsNegative() {
		return DirectionDecrease
	}
	return DirectionIncrease
}

// ReversalDelta is the balance change that undoes this record. Reversals
// themselves cannot be reversed.
func (t *TransactionRecord) ReversalDelta() (Money, error) {
	switch t.Type {
	case TransactionTypeCreditSale:
		return t.Amount.Neg(), nil
	case TransactionTypePayment:
		return t.Amount, nil
	case TransactionTypeAdjustment:
		if t.Direction() == DirectionDecrease {
			return t.Amount, nil
		}
		return t.Amount.Neg(), nil
	case TransactionTypeReversal:
		return Zero, fmt.Errorf("%w: %s is itself a reversal", ErrInvalidReversal, t.TransactionID)
	default:
		return Zero, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidReversal, t.Type)
	}
}

// ReplayBalance folds records (oldest first) from a zero opening balance
func ReplayBalance(records []*TransactionRecord) Money {
	balance := Zero
	for _, r := range records {
		balance = balance.Add(r.SignedEffect())
	}
	return balance
}

// LedgerQuery selects a page of a customer's transactions, newest first
type LedgerQuery struct {
	StoreID       string
	CustomerPhone string
	From          *time.Time
	To            *time.Time
	Cursor        *LedgerCursor
	Limit         int
}

// LedgerCursor is the position after the last record of a page
type LedgerCursor struct {
	CreatedAt     time.Time `json:"t"`
	TransactionID string    `json:"id"`
}

// LedgerPage is one page of a customer ledger
type LedgerPage struct {
	Transactions []*TransactionRecord
	Next         *LedgerCursor
}
