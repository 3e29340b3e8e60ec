package domain

import "time"

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	AggregateID() string
	StoreID() string
	OccurredAt() time.Time
}

// TransactionRecordedEvent is published after a ledger entry commits
type TransactionRecordedEvent struct {
	Store         string          `json:"storeId"`
	TransactionID string          `json:"transactionId"`
	CustomerPhone string          `json:"customerPhone"`
	Type          TransactionType `json:"type"`
	Amount        Money           `json:"amount"`
	BalanceAfter  Money           `json:"balanceAfter"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	RecordedAt    time.Time       `json:"recordedAt"`
}

// NewTransactionRecordedEvent describes a committed transaction record
func NewTransactionRecordedEvent(r *TransactionRecord) *TransactionRecordedEvent {
	return &TransactionRecordedEvent{
		Store:         r.StoreID,
		TransactionID: r.TransactionID,
		CustomerPhone: r.CustomerPhone,
		Type:          r.Type,
		Amount:        r.Amount,
		BalanceAfter:  r.BalanceAfter,
		ReferenceID:   r.ReferenceID,
		RecordedAt:    r.CreatedAt,
	}
}

func (e *TransactionRecordedEvent) EventType() string     { return "retail.ledger.transaction.recorded" }
func (e *TransactionRecordedEvent) AggregateID() string   { return e.CustomerPhone }
func (e *TransactionRecordedEvent) StoreID() string       { return e.Store }
func (e *TransactionRecordedEvent) OccurredAt() time.Time { return e.RecordedAt }

// StockAdjustedEvent is published after stock changes commit
type StockAdjustedEvent struct {
	Store      string        `json:"storeId"`
	Reason     string        `json:"reason"`
	OrderID    string        `json:"orderId,omitempty"`
	Changes    []StockChange `json:"changes"`
	AdjustedAt time.Time     `json:"adjustedAt"`
}

func (e *StockAdjustedEvent) EventType() string { return "retail.inventory.stock.adjusted" }

func (e *StockAdjustedEvent) AggregateID() string {
	if len(e.Changes) == 1 {
		return e.Changes[0].ProductID
	}
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.Store
}

func (e *StockAdjustedEvent) StoreID() string       { return e.Store }
func (e *StockAdjustedEvent) OccurredAt() time.Time { return e.AdjustedAt }
