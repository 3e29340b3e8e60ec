package cache

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retail-platform/ledger-service/internal/domain"
	sharedmongo "github.com/retail-platform/ledger-service/pkg/mongodb"
)

const summaryCollection = "inventory_summary_cache"

type cachedSummary struct {
	StoreID   string                  `bson:"_id"`
	Summary   domain.InventorySummary `bson:"summary"`
	ExpiresAt time.Time               `bson:"expiresAt"`
}

// MongoSummaryCache shares cached summaries across instances. Expired
// documents are filtered on read and removed by a TTL index.
type MongoSummaryCache struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoSummaryCache creates the cache and its TTL index
func NewMongoSummaryCache(ctx context.Context, db *mongo.Database) (*MongoSummaryCache, error) {
	c := &MongoSummaryCache{
		collection: db.Collection(summaryCollection),
		now:        sharedmongo.Now,
	}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("summary_ttl"),
	}
	if _, err := c.collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("failed to create summary cache index: %w", err)
	}
	return c, nil
}

func (c *MongoSummaryCache) Get(ctx context.Context, storeID string) (*domain.InventorySummary, error) {
	var doc cachedSummary
	err := c.collection.FindOne(ctx, bson.M{
		"_id":       storeID,
		"expiresAt": bson.M{"$gt": c.now()},
	}).Decode(&doc)
	if sharedmongo.IsNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached summary: %w", err)
	}
	return &doc.Summary, nil
}

func (c *MongoSummaryCache) Set(ctx context.Context, summary *domain.InventorySummary, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	doc := cachedSummary{
		StoreID:   summary.StoreID,
		Summary:   *summary,
		ExpiresAt: c.now().Add(ttl),
	}
	_, err := c.collection.ReplaceOne(ctx, bson.M{"_id": summary.StoreID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write cached summary: %w", err)
	}
	return nil
}

func (c *MongoSummaryCache) Invalidate(ctx context.Context, storeID string) error {
	if _, err := c.collection.DeleteOne(ctx, bson.M{"_id": storeID}); err != nil {
		return fmt.Errorf("failed to invalidate cached summary: %w", err)
	}
	return nil
}
