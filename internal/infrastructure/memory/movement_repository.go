package memory

import (
	"context"
	"sync"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// MovementRepository is an in-process domain.MovementRepository
type MovementRepository struct {
	mu        sync.RWMutex
	movements []*domain.StockMovement
}

// NewMovementRepository creates an empty audit trail
func NewMovementRepository() *MovementRepository {
	return &MovementRepository{}
}

// Append records a movement
func (r *MovementRepository) Append(ctx context.Context, movement *domain.StockMovement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.add(movement)
	return nil
}

func (r *MovementRepository) add(movement *domain.StockMovement) {
	cp := *movement
	r.mu.Lock()
	r.movements = append(r.movements, &cp)
	r.mu.Unlock()
}

// ListByProduct returns the newest movements of a product first
func (r *MovementRepository) ListByProduct(ctx context.Context, storeID, productID string, limit int) ([]*domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.StockMovement, 0)
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if m.StoreID != storeID || m.ProductID != productID {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
