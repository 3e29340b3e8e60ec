package mongodb

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

const ledgerCollection = "credit_transactions"

// LedgerRepository implements domain.LedgerRepository. Records are insert-only.
type LedgerRepository struct {
	collection *mongo.Collection
}

// NewLedgerRepository creates the repository and its indexes
func NewLedgerRepository(ctx context.Context, db *mongo.Database) (*LedgerRepository, error) {
	repo := &LedgerRepository{collection: db.Collection(ledgerCollection)}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *LedgerRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transactionId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("transaction_id_unique"),
		},
		{
			Keys: bson.D{
				{Key: "storeId", Value: 1},
				{Key: "customerPhone", Value: 1},
				{Key: "createdAt", Value: -1},
				{Key: "transactionId", Value: -1},
			},
			Options: options.Index().SetName("customer_ledger"),
		},
		{
			// At most one reversal per original transaction.
			Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "referenceId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("reversal_reference_unique").
				SetPartialFilterExpression(bson.M{"type": string(domain.TransactionTypeReversal)}),
		},
		{
			// Concurrent calls with one key cannot both commit.
			Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "type", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("idempotency_key_unique").
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$gt": ""}}),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Append(ctx context.Context, record *domain.TransactionRecord) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		if sharedmongo.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, record.TransactionID)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (r *LedgerRepository) FindByID(ctx context.Context, storeID, transactionID string) (*domain.TransactionRecord, error) {
	return r.findOne(ctx, bson.M{"storeId": storeID, "transactionId": transactionID})
}

func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, storeID string, txType domain.TransactionType, key string) (*domain.TransactionRecord, error) {
	if key == "" {
		return nil, domain.ErrTransactionNotFound
	}
	return r.findOne(ctx, bson.M{"storeId": storeID, "type": string(txType), "idempotencyKey": key})
}

func (r *LedgerRepository) FindReversalOf(ctx context.Context, storeID, originalID string) (*domain.TransactionRecord, error) {
	return r.findOne(ctx, bson.M{
		"storeId":     storeID,
		"referenceId": originalID,
		"type":        string(domain.TransactionTypeReversal),
	})
}

func (r *LedgerRepository) findOne(ctx context.Context, filter bson.M) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	err := r.collection.FindOne(ctx, filter).Decode(&record)
	if sharedmongo.IsNoDocuments(err) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &record, nil
}

// List pages by (createdAt, transactionId) descending. One extra document is
// read to decide whether a next cursor exists.
func (r *LedgerRepository) List(ctx context.Context, query domain.LedgerQuery) (*domain.LedgerPage, error) {
	conditions := bson.A{
		bson.M{"storeId": query.StoreID, "customerPhone": query.CustomerPhone},
	}

	var from, to time.Time
	if query.From != nil {
		from = *query.From
	}
	if query.To != nil {
		to = *query.To
	}
	if dr := sharedmongo.DateRange(from, to); dr != nil {
		conditions = append(conditions, bson.M{"createdAt": dr})
	}

	if c := query.Cursor; c != nil {
		conditions = append(conditions, bson.M{"$or": bson.A{
			bson.M{"createdAt": bson.M{"$lt": c.CreatedAt}},
			bson.M{"createdAt": c.CreatedAt, "transactionId": bson.M{"$lt": c.TransactionID}},
		}})
	}

	opts := options.Find().SetSort(sharedmongo.SortDescending("createdAt", "transactionId"))
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit + 1))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"$and": conditions}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*domain.TransactionRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}

	page := &domain.LedgerPage{Transactions: records}
	if query.Limit > 0 && len(records) > query.Limit {
		page.Transactions = records[:query.Limit]
		last := page.Transactions[query.Limit-1]
		page.Next = &domain.LedgerCursor{CreatedAt: last.CreatedAt, TransactionID: last.TransactionID}
	}
	return page, nil
}
