package domain

import (
	"fmt"
	"math"
	"time"
)

// ProductStatus is the catalogue state of a stocked product
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusArchived ProductStatus = "archived"
)

// DefaultLowStockThreshold applies to products created by an upsert increment
const DefaultLowStockThreshold int64 = 10

// MaxStockDelta bounds a single stock change in either direction
const MaxStockDelta int64 = 1_000_000_000

// CheckStockDelta rejects a delta outside [-MaxStockDelta, MaxStockDelta]
func CheckStockDelta(delta int64) error {
	if delta < -MaxStockDelta || delta > MaxStockDelta {
		return NewFieldError("delta", fmt.Sprintf("must be between %d and %d", -MaxStockDelta, MaxStockDelta))
	}
	return nil
}

// CheckIncrement rejects an increment that would overflow the stock of productID
func CheckIncrement(productID string, current, delta int64) error {
	if delta > 0 && current > math.MaxInt64-delta {
		return NewFieldError("delta", fmt.Sprintf("adding %d to the stock of %s would overflow", delta, productID))
	}
	return nil
}

// StockRecord is the on-hand quantity of one product at one store. CurrentStock
// never goes negative.
type StockRecord struct {
	StoreID           string        `bson:"storeId" json:"storeId"`
	ProductID         string        `bson:"productId" json:"productId"`
	Name              string        `bson:"name,omitempty" json:"name,omitempty"`
	CurrentStock      int64         `bson:"currentStock" json:"currentStock"`
	UnitPrice         Money         `bson:"unitPrice" json:"unitPrice"`
	LowStockThreshold int64         `bson:"lowStockThreshold" json:"lowStockThreshold"`
	Status            ProductStatus `bson:"status" json:"status"`
	CreatedAt         time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// IsActive reports whether the product counts towards stock summaries
func (s *StockRecord) IsActive() bool {
	return s.Status == "" || s.Status == ProductStatusActive
}

// IsOutOfStock reports an active product with nothing on hand
func (s *StockRecord) IsOutOfStock() bool {
	return s.IsActive() && s.CurrentStock == 0
}

// IsLowStock reports an active product at or under its threshold but not empty
func (s *StockRecord) IsLowStock() bool {
	return s.IsActive() && s.CurrentStock > 0 && s.CurrentStock <= s.LowStockThreshold
}

// StockValue is the on-hand value of an active product
func (s *StockRecord) StockValue() Money {
	if !s.IsActive() {
		return Zero
	}
	return s.UnitPrice.MulInt(s.CurrentStock)
}

// StockChange is the committed outcome of one stock delta
type StockChange struct {
	StoreID       string       `json:"storeId"`
	ProductID     string       `json:"productId"`
	Delta         int64        `json:"delta"`
	PreviousStock int64        `json:"previousStock"`
	NewStock      int64        `json:"newStock"`
	Created       bool         `json:"created,omitempty"`
	Record        *StockRecord `json:"-"`
}

// OrderLine is one requested change in a bulk stock update
type OrderLine struct {
	ProductID string `json:"productId" validate:"required,identifier"`
	Delta     int64  `json:"delta" validate:"gte=-1000000000,lte=1000000000"`
}

// MovementReason describes where a stock delta came from
type MovementReason string

const (
	ReasonOrder      MovementReason = "order"
	ReasonAdjustment MovementReason = "adjustment"
	ReasonRestock    MovementReason = "restock"
	ReasonReturn     MovementReason = "return"
)

// StockMovement is the append-only audit of one committed stock delta
type StockMovement struct {
	MovementID    string    `bson:"movementId" json:"movementId"`
	StoreID       string    `bson:"storeId" json:"storeId"`
	ProductID     string    `bson:"productId" json:"productId"`
	Delta         int64     `bson:"delta" json:"delta"`
	PreviousStock int64     `bson:"previousStock" json:"previousStock"`
	NewStock      int64     `bson:"newStock" json:"newStock"`
	Reason        string    `bson:"reason" json:"reason"`
	OrderID       string    `bson:"orderId,omitempty" json:"orderId,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}

// NewStockMovement records change with a fresh MOV- id
func NewStockMovement(change StockChange, reason, orderID string) *StockMovement {
	return &StockMovement{
		MovementID:    newPrefixedID("MOV"),
		StoreID:       change.StoreID,
		ProductID:     change.ProductID,
		Delta:         change.Delta,
		PreviousStock: change.PreviousStock,
		NewStock:      change.NewStock,
		Reason:        reason,
		OrderID:       orderID,
		CreatedAt:     time.Now().UTC(),
	}
}
