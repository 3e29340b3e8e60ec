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

const balanceCollection = "customer_balances"

// BalanceRepository implements domain.BalanceRepository with version-conditioned updates
type BalanceRepository struct {
	collection *mongo.Collection
}

// NewBalanceRepository creates the repository and its indexes
func NewBalanceRepository(ctx context.Context, db *mongo.Database) (*BalanceRepository, error) {
	repo := &BalanceRepository{collection: db.Collection(balanceCollection)}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *BalanceRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "storeId", Value: 1}, {Key: "customerPhone", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("store_customer_unique"),
		},
		{Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "outstandingBalance", Value: -1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create balance indexes: %w", err)
	}
	return nil
}

func (r *BalanceRepository) Get(ctx context.Context, storeID, phone string) (*domain.BalanceRecord, error) {
	var record domain.BalanceRecord
	err := r.collection.FindOne(ctx, bson.M{"storeId": storeID, "customerPhone": phone}).Decode(&record)
	if sharedmongo.IsNoDocuments(err) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return &record, nil
}

func (r *BalanceRepository) Create(ctx context.Context, record *domain.BalanceRecord) error {
	record.CreatedAt = sharedmongo.Now()
	record.UpdatedAt = record.CreatedAt

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		if sharedmongo.IsDuplicateKey(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

// UpdateBalance matches on the expected version and increments it in the same write
func (r *BalanceRepository) UpdateBalance(ctx context.Context, storeID, phone string, newBalance domain.Money, expectedVersion int64) (*domain.BalanceRecord, error) {
	filter := bson.M{
		"storeId":       storeID,
		"customerPhone": phone,
		"version":       expectedVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"outstandingBalance": newBalance,
			"updatedAt":          sharedmongo.Now(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.BalanceRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !sharedmongo.IsNoDocuments(err) {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"storeId": storeID, "customerPhone": phone})
	if err != nil {
		return nil, fmt.Errorf("failed to check balance existence: %w", err)
	}
	if count == 0 {
		return nil, domain.ErrCustomerNotFound
	}
	return nil, domain.ErrVersionConflict
}
