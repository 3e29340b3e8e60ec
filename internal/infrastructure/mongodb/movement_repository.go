package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retail-platform/ledger-service/internal/domain"
	sharedmongo "github.com/retail-platform/ledger-service/pkg/mongodb"
)

const movementCollection = "stock_movements"

// MovementRepository implements domain.MovementRepository
type MovementRepository struct {
	collection *mongo.Collection
}

// NewMovementRepository creates the repository and its indexes
func NewMovementRepository(ctx context.Context, db *mongo.Database) (*MovementRepository, error) {
	repo := &MovementRepository{collection: db.Collection(movementCollection)}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "movementId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "productId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create movement indexes: %w", err)
	}
	return repo, nil
}

func (r *MovementRepository) Append(ctx context.Context, movement *domain.StockMovement) error {
	if _, err := r.collection.InsertOne(ctx, movement); err != nil {
		return fmt.Errorf("failed to append stock movement: %w", err)
	}
	return nil
}

func (r *MovementRepository) ListByProduct(ctx context.Context, storeID, productID string, limit int) ([]*domain.StockMovement, error) {
	opts := options.Find().SetSort(sharedmongo.SortDescending("createdAt"))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"storeId": storeID, "productId": productID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}
	defer cursor.Close(ctx)

	movements := make([]*domain.StockMovement, 0)
	if err := cursor.All(ctx, &movements); err != nil {
		return nil, fmt.Errorf("failed to decode stock movements: %w", err)
	}
	return movements, nil
}
