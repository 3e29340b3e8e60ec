package domain

import "time"

// InventorySummary aggregates the stock records of one store
type InventorySummary struct {
	StoreID         string    `bson:"storeId" json:"storeId"`
	TotalProducts   int64     `bson:"totalProducts" json:"totalProducts"`
	ActiveProducts  int64     `bson:"activeProducts" json:"activeProducts"`
	ArchivedCount   int64     `bson:"archivedProducts" json:"archivedProducts"`
	OutOfStock      int64     `bson:"outOfStock" json:"outOfStock"`
	LowStock        int64     `bson:"lowStock" json:"lowStock"`
	TotalStockValue Money     `bson:"totalStockValue" json:"totalStockValue"`
	CapturedAt      time.Time `bson:"capturedAt" json:"capturedAt"`
	FromCache       bool      `bson:"-" json:"fromCache"`
}

// Summarize computes the summary from a full scan of a store's records
func Summarize(storeID string, records []*StockRecord, now time.Time) *InventorySummary {
	s := &InventorySummary{StoreID: storeID, TotalStockValue: Zero, CapturedAt: now}
	for _, r := range records {
		s.TotalProducts++
		if !r.IsActive() {
			s.ArchivedCount++
			continue
		}
		s.ActiveProducts++
		if r.IsOutOfStock() {
			s.OutOfStock++
		}
		if r.IsLowStock() {
			s.LowStock++
		}
		s.TotalStockValue = s.TotalStockValue.Add(r.StockValue())
	}
	return s
}

// SummaryCounters are the pre-aggregated stock indicators of a store. They
// are maintained best-effort and rebuilt by reconciliation.
type SummaryCounters struct {
	StoreID      string    `bson:"storeId" json:"storeId"`
	OutOfStock   int64     `bson:"outOfStock" json:"outOfStock"`
	LowStock     int64     `bson:"lowStock" json:"lowStock"`
	StockValue   Money     `bson:"stockValue" json:"stockValue"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
	ReconciledAt time.Time `bson:"reconciledAt,omitempty" json:"reconciledAt,omitempty"`
}

// CountersFromSummary builds the counters a full scan implies
func CountersFromSummary(s *InventorySummary) *SummaryCounters {
	return &SummaryCounters{
		StoreID:    s.StoreID,
		OutOfStock: s.OutOfStock,
		LowStock:   s.LowStock,
		StockValue: s.TotalStockValue,
		UpdatedAt:  s.CapturedAt,
	}
}

// CounterDelta is an increment to apply to SummaryCounters
type CounterDelta struct {
	OutOfStock int64
	LowStock   int64
	StockValue Money
}

// IsZero reports a delta that changes nothing
func (d CounterDelta) IsZero() bool {
	return d.OutOfStock == 0 && d.LowStock == 0 && d.StockValue.IsZero()
}

// Add combines two deltas
func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{
		OutOfStock: d.OutOfStock + o.OutOfStock,
		LowStock:   d.LowStock + o.LowStock,
		StockValue: d.StockValue.Add(o.StockValue),
	}
}

// CounterDeltaFor derives the counter change caused by a committed stock change
func CounterDeltaFor(change StockChange) CounterDelta {
	if change.Record == nil {
		return CounterDelta{StockValue: Zero}
	}
	after := *change.Record
	after.CurrentStock = change.NewStock
	if change.Created {
		return CounterDeltaBetween(nil, &after)
	}

	before := *change.Record
	before.CurrentStock = change.PreviousStock
	return CounterDeltaBetween(&before, &after)
}

// CounterDeltaBetween is the counter change from before to after. A nil
// before is a product that did not exist.
func CounterDeltaBetween(before, after *StockRecord) CounterDelta {
	d := CounterDelta{
		OutOfStock: flag(after.IsOutOfStock()),
		LowStock:   flag(after.IsLowStock()),
		StockValue: after.StockValue(),
	}
	if before != nil {
		d.OutOfStock -= flag(before.IsOutOfStock())
		d.LowStock -= flag(before.IsLowStock())
		d.StockValue = d.StockValue.Sub(before.StockValue())
	}
	return d
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
