package application

import (
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// TransactionResult is the uniform outcome of every balance-mutating operation.
// On failure Success is false and ErrorCode names the failure kind.
type TransactionResult struct {
	Success          bool             `json:"success"`
	TransactionID    string           `json:"transactionId,omitempty"`
	NewBalance       *domain.Money    `json:"newBalance,omitempty"`
	Message          string           `json:"message"`
	Error            string           `json:"error,omitempty"`
	ErrorCode        domain.ErrorCode `json:"errorCode,omitempty"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	Replayed         bool             `json:"replayed,omitempty"`
}

// CustomerLedgerDTO is one page of a customer's ledger
type CustomerLedgerDTO struct {
	Balance      *domain.BalanceRecord       `json:"balance"`
	Transactions []*domain.TransactionRecord `json:"transactions"`
	NextCursor   string                      `json:"nextCursor,omitempty"`
}

// StockAdjustmentDTO is the result of a single stock adjustment
type StockAdjustmentDTO struct {
	StoreID       string `json:"storeId"`
	ProductID     string `json:"productId"`
	PreviousStock int64  `json:"previousStock"`
	NewStock      int64  `json:"newStock"`
}

// BulkStockResult is the result of an order-level stock update. On failure
// FailedItems lists every line that prevented the commit.
type BulkStockResult struct {
	Success     bool                 `json:"success"`
	Changes     []StockAdjustmentDTO `json:"changes,omitempty"`
	FailedItems []domain.ItemFailure `json:"failedItems,omitempty"`
	Message     string               `json:"message"`
	ErrorCode   domain.ErrorCode     `json:"errorCode,omitempty"`
}

// ReconciliationResult reports the counters rebuilt for one store
type ReconciliationResult struct {
	StoreID      string                  `json:"storeId"`
	Before       *domain.SummaryCounters `json:"before,omitempty"`
	After        *domain.SummaryCounters `json:"after"`
	Drifted      bool                    `json:"drifted"`
	ReconciledAt time.Time               `json:"reconciledAt"`
}

func toStockAdjustmentDTO(change domain.StockChange) StockAdjustmentDTO {
	return StockAdjustmentDTO{
		StoreID:       change.StoreID,
		ProductID:     change.ProductID,
		PreviousStock: change.PreviousStock,
		NewStock:      change.NewStock,
	}
}
