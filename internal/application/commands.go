package application

import (
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// RecordCreditSaleCommand charges a sale to a customer's tab
type RecordCreditSaleCommand struct {
	StoreID        string            `json:"storeId" validate:"required,identifier"`
	CustomerPhone  string            `json:"customerPhone" validate:"required,phone"`
	CustomerName   string            `json:"customerName" validate:"max=120"`
	Amount         domain.Money      `json:"amount"`
	CreditLimit    *domain.Money     `json:"creditLimit,omitempty"` // only used when the account is opened
	Items          []domain.LineItem `json:"items,omitempty" validate:"max=200"`
	OrderID        string            `json:"orderId,omitempty" validate:"omitempty,identifier"`
	Notes          string            `json:"notes,omitempty" validate:"max=500"`
	CreatedBy      string            `json:"createdBy" validate:"required,max=120"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty" validate:"omitempty,idempotency_key"`
}

// RecordPaymentCommand settles part or all of a customer's tab
type RecordPaymentCommand struct {
	StoreID          string               `json:"storeId" validate:"required,identifier"`
	CustomerPhone    string               `json:"customerPhone" validate:"required,phone"`
	Amount           domain.Money         `json:"amount"`
	PaymentMethod    domain.PaymentMethod `json:"paymentMethod,omitempty"`
	PaymentReference string               `json:"paymentReference,omitempty" validate:"max=120"`
	Notes            string               `json:"notes,omitempty" validate:"max=500"`
	CreatedBy        string               `json:"createdBy" validate:"required,max=120"`
	IdempotencyKey   string               `json:"idempotencyKey,omitempty" validate:"omitempty,idempotency_key"`
}

// AdjustBalanceCommand applies a signed manual correction. Notes are mandatory.
type AdjustBalanceCommand struct {
	StoreID        string                `json:"storeId" validate:"required,identifier"`
	CustomerPhone  string                `json:"customerPhone" validate:"required,phone"`
	Amount         domain.Money          `json:"amount"` // positive increases the balance
	AdjustmentType domain.AdjustmentType `json:"adjustmentType,omitempty"`
	Notes          string                `json:"notes" validate:"max=500"`
	CreatedBy      string                `json:"createdBy" validate:"required,max=120"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty" validate:"omitempty,idempotency_key"`
}

// ReverseTransactionCommand undoes a previously committed transaction
type ReverseTransactionCommand struct {
	StoreID        string `json:"storeId" validate:"required,identifier"`
	TransactionID  string `json:"transactionId" validate:"required,max=64"`
	Reason         string `json:"reason" validate:"required,max=500"`
	CreatedBy      string `json:"createdBy" validate:"required,max=120"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,idempotency_key"`
}

// GetCustomerLedgerQuery pages through a customer's transactions
type GetCustomerLedgerQuery struct {
	StoreID       string     `json:"storeId" validate:"required,identifier"`
	CustomerPhone string     `json:"customerPhone" validate:"required,phone"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Cursor        string     `json:"cursor,omitempty"`
	Limit         int        `json:"limit,omitempty" validate:"gte=0"`
}

// AdjustStockCommand changes one product's stock by Delta
type AdjustStockCommand struct {
	StoreID   string `json:"storeId" validate:"required,identifier"`
	ProductID string `json:"productId" validate:"required,identifier"`
	Delta     int64  `json:"delta" validate:"gte=-1000000000,lte=1000000000"`
	Reason    string `json:"reason" validate:"max=200"`
}

// ApplyOrderStockChangesCommand applies every line of an order atomically
type ApplyOrderStockChangesCommand struct {
	StoreID string             `json:"storeId" validate:"required,identifier"`
	OrderID string             `json:"orderId,omitempty" validate:"omitempty,identifier"`
	Items   []domain.OrderLine `json:"items" validate:"dive"`
	Reason  string             `json:"reason" validate:"max=200"`
}

// GetInventorySummaryQuery reads a store's stock summary
type GetInventorySummaryQuery struct {
	StoreID   string `json:"storeId" validate:"required,identifier"`
	SkipCache bool   `json:"skipCache"`
}

// UpsertProductCommand creates or replaces a product's stock record
type UpsertProductCommand struct {
	StoreID           string               `json:"storeId" validate:"required,identifier"`
	ProductID         string               `json:"productId" validate:"required,identifier"`
	Name              string               `json:"name" validate:"max=200"`
	CurrentStock      int64                `json:"currentStock" validate:"gte=0"`
	UnitPrice         domain.Money         `json:"unitPrice"`
	LowStockThreshold int64                `json:"lowStockThreshold" validate:"gte=0"`
	Status            domain.ProductStatus `json:"status,omitempty" validate:"omitempty,oneof=active archived"`
}
