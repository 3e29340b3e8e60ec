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

const counterCollection = "inventory_summary_counters"

// CounterRepository implements domain.CounterRepository with one document per store
type CounterRepository struct {
	collection *mongo.Collection
}

// NewCounterRepository creates the repository and its indexes
func NewCounterRepository(ctx context.Context, db *mongo.Database) (*CounterRepository, error) {
	repo := &CounterRepository{collection: db.Collection(counterCollection)}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "storeId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := repo.collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("failed to create counter indexes: %w", err)
	}
	return repo, nil
}

func (r *CounterRepository) Get(ctx context.Context, storeID string) (*domain.SummaryCounters, error) {
	var counters domain.SummaryCounters
	err := r.collection.FindOne(ctx, bson.M{"storeId": storeID}).Decode(&counters)
	if sharedmongo.IsNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	return &counters, nil
}

// Increment applies delta with a server-side $inc, creating the document when missing
func (r *CounterRepository) Increment(ctx context.Context, storeID string, delta domain.CounterDelta) error {
	update := bson.M{
		"$inc": bson.M{
			"outOfStock": delta.OutOfStock,
			"lowStock":   delta.LowStock,
			"stockValue": delta.StockValue,
		},
		"$set": bson.M{"updatedAt": sharedmongo.Now()},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"storeId": storeID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	return nil
}

func (r *CounterRepository) Replace(ctx context.Context, counters *domain.SummaryCounters) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"storeId": counters.StoreID}, counters, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to replace counters: %w", err)
	}
	return nil
}
