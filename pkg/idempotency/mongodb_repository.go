package idempotency

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retail-platform/ledger-service/pkg/mongodb"
)

const idempotencyKeysCollection = "idempotency_keys"

// MongoRepository implements Repository using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a new MongoDB-backed repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(idempotencyKeysCollection),
	}
}

// Get retrieves an entry by scope and key
func (r *MongoRepository) Get(ctx context.Context, scope, key string) (*Entry, error) {
	filter := bson.M{
		"scope": scope,
		"key":   key,
	}

	var result Entry
	err := r.collection.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &result, nil
}

// Put inserts the entry unless one already exists for the same scope and key
func (r *MongoRepository) Put(ctx context.Context, entry *Entry) error {
	filter := bson.M{
		"scope": entry.Scope,
		"key":   entry.Key,
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"key":                entry.Key,
			"scope":              entry.Scope,
			"requestFingerprint": entry.RequestFingerprint,
			"outcome":            entry.Outcome,
			"createdAt":          entry.CreatedAt,
			"expiresAt":          entry.ExpiresAt,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && mongodb.IsDuplicateKey(err) {
		// lost an upsert race; the other writer's outcome stands
		return nil
	}
	return err
}

// Clean removes expired entries
func (r *MongoRepository) Clean(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"expiresAt": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}

// EnsureIndexes ensures that all required indexes are created
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "scope", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_scope_key"),
		},
		{
			Keys: bson.D{
				{Key: "expiresAt", Value: 1},
			},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_ttl"),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
