package mongodb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retail-platform/ledger-service/internal/domain"
	sharedmongo "github.com/retail-platform/ledger-service/pkg/mongodb"
)

const stockCollection = "stock_items"

// conditional decrements that lose a race to a restock are re-attempted this many times
const maxDecrementAttempts = 3

// StockRepository implements domain.StockRepository. Single adjustments are one
// atomic document update; batches run in a multi-document transaction.
type StockRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	movements  *mongo.Collection
}

// NewStockRepository creates the repository and its indexes. Batch movements
// are written to the movement collection inside the batch transaction.
func NewStockRepository(ctx context.Context, db *mongo.Database) (*StockRepository, error) {
	repo := &StockRepository{
		client:     db.Client(),
		collection: db.Collection(stockCollection),
		movements:  db.Collection(movementCollection),
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *StockRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "storeId", Value: 1}, {Key: "productId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("store_product_unique"),
		},
		{Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "status", Value: 1}, {Key: "currentStock", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create stock indexes: %w", err)
	}
	return nil
}

func (r *StockRepository) Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	var record domain.StockRecord
	err := r.collection.FindOne(ctx, bson.M{"storeId": storeID, "productId": productID}).Decode(&record)
	if sharedmongo.IsNoDocuments(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stock record: %w", err)
	}
	return &record, nil
}

// Save upserts the catalogue fields and quantity of a product
func (r *StockRepository) Save(ctx context.Context, record *domain.StockRecord) error {
	if record.CurrentStock < 0 {
		return domain.NewFieldError("currentStock", "must not be negative")
	}
	if record.Status == "" {
		record.Status = domain.ProductStatusActive
	}
	now := sharedmongo.Now()
	record.UpdatedAt = now

	filter := bson.M{"storeId": record.StoreID, "productId": record.ProductID}
	update := bson.M{
		"$set": bson.M{
			"name":              record.Name,
			"currentStock":      record.CurrentStock,
			"unitPrice":         record.UnitPrice,
			"lowStockThreshold": record.LowStockThreshold,
			"status":            record.Status,
			"updatedAt":         now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save stock record: %w", err)
	}
	return nil
}

func (r *StockRepository) Adjust(ctx context.Context, storeID, productID string, delta int64) (*domain.StockChange, error) {
	if err := domain.CheckStockDelta(delta); err != nil {
		return nil, err
	}
	if delta < 0 {
		return r.decrement(ctx, storeID, productID, delta)
	}
	return r.increment(ctx, storeID, productID, delta)
}

// decrement is conditioned on currentStock >= |delta|. The failed condition reveals
// nothing, so a follow-up read supplies the current stock for the error.
func (r *StockRepository) decrement(ctx context.Context, storeID, productID string, delta int64) (*domain.StockChange, error) {
	for attempt := 1; ; attempt++ {
		var after domain.StockRecord
		err := r.collection.FindOneAndUpdate(ctx,
			decrementFilter(storeID, productID, delta),
			adjustUpdate(delta),
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&after)

		if err == nil {
			return changeFrom(&after, delta, false), nil
		}
		if !sharedmongo.IsNoDocuments(err) {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}

		current, err := r.Get(ctx, storeID, productID)
		if err != nil {
			return nil, err
		}
		if current.CurrentStock < -delta || attempt >= maxDecrementAttempts {
			return nil, domain.NewInsufficientStockError(productID, current.CurrentStock, -delta)
		}
	}
}

// increment upserts from zero. The pre-image tells whether the record was
// created. The filter excludes records the increment would overflow; on such a
// record the upsert collides with the unique index instead of matching.
func (r *StockRepository) increment(ctx context.Context, storeID, productID string, delta int64) (*domain.StockChange, error) {
	now := sharedmongo.Now()
	update := bson.M{
		"$inc": bson.M{"currentStock": delta},
		"$set": bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{
			"unitPrice":         domain.Zero,
			"lowStockThreshold": domain.DefaultLowStockThreshold,
			"status":            domain.ProductStatusActive,
			"createdAt":         now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)
	filter := incrementFilter(storeID, productID, delta)

	var before domain.StockRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if sharedmongo.IsDuplicateKey(err) {
		// concurrent upsert inserted first; the retry matches the existing document
		err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	}
	if sharedmongo.IsDuplicateKey(err) {
		current, getErr := r.Get(ctx, storeID, productID)
		if getErr != nil {
			return nil, getErr
		}
		if overflow := domain.CheckIncrement(productID, current.CurrentStock, delta); overflow != nil {
			return nil, overflow
		}
		return nil, fmt.Errorf("failed to increment stock: %w", err)
	}

	switch {
	case err == nil:
		after := before
		after.CurrentStock += delta
		after.UpdatedAt = now
		return changeFrom(&after, delta, false), nil
	case sharedmongo.IsNoDocuments(err):
		created := &domain.StockRecord{
			StoreID:           storeID,
			ProductID:         productID,
			CurrentStock:      delta,
			UnitPrice:         domain.Zero,
			LowStockThreshold: domain.DefaultLowStockThreshold,
			Status:            domain.ProductStatusActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return changeFrom(created, delta, true), nil
	default:
		return nil, fmt.Errorf("failed to increment stock: %w", err)
	}
}

// ApplyBatch evaluates every line inside one transaction. Any failing line
// aborts the transaction, and the error lists all of them.
func (r *StockRepository) ApplyBatch(ctx context.Context, req domain.BatchRequest) ([]domain.StockChange, error) {
	var changes []domain.StockChange

	err := sharedmongo.WithTransaction(ctx, r.client, func(sessCtx mongo.SessionContext) error {
		changes = make([]domain.StockChange, 0, len(req.Lines))
		var failures []domain.ItemFailure

		for i, line := range req.Lines {
			change, err := r.applyLine(sessCtx, req.StoreID, line)
			if err != nil {
				if domain.IsClientError(err) {
					failures = append(failures, domain.NewItemFailure(i, line, err))
					continue
				}
				return err
			}
			changes = append(changes, *change)
		}

		if len(failures) > 0 {
			return &domain.TransactionCancelledError{Failures: failures}
		}

		docs := make([]interface{}, 0, len(changes))
		for _, change := range changes {
			docs = append(docs, domain.NewStockMovement(change, req.Reason, req.OrderID))
		}
		if _, err := r.movements.InsertMany(sessCtx, docs); err != nil {
			return fmt.Errorf("failed to record stock movements: %w", err)
		}
		return nil
	})

	if err != nil {
		var cancelled *domain.TransactionCancelledError
		if errors.As(err, &cancelled) {
			return nil, cancelled
		}
		return nil, fmt.Errorf("stock transaction failed: %w", err)
	}
	return changes, nil
}

func (r *StockRepository) applyLine(sessCtx mongo.SessionContext, storeID string, line domain.OrderLine) (*domain.StockChange, error) {
	if err := domain.CheckStockDelta(line.Delta); err != nil {
		return nil, err
	}
	if line.Delta >= 0 {
		// a write error would abort the whole transaction, so overflow is
		// checked against the snapshot before the upsert
		current, err := r.Get(sessCtx, storeID, line.ProductID)
		switch {
		case err == nil:
			if err := domain.CheckIncrement(line.ProductID, current.CurrentStock, line.Delta); err != nil {
				return nil, err
			}
		case !errors.Is(err, domain.ErrProductNotFound):
			return nil, err
		}
		return r.increment(sessCtx, storeID, line.ProductID, line.Delta)
	}

	var after domain.StockRecord
	err := r.collection.FindOneAndUpdate(sessCtx,
		decrementFilter(storeID, line.ProductID, line.Delta),
		adjustUpdate(line.Delta),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&after)
	if err == nil {
		return changeFrom(&after, line.Delta, false), nil
	}
	if !sharedmongo.IsNoDocuments(err) {
		return nil, fmt.Errorf("failed to decrement %s: %w", line.ProductID, err)
	}

	// inside the snapshot the read cannot race the failed condition
	current, err := r.Get(sessCtx, storeID, line.ProductID)
	if err != nil {
		return nil, err
	}
	return nil, domain.NewInsufficientStockError(line.ProductID, current.CurrentStock, -line.Delta)
}

func (r *StockRepository) ListByStore(ctx context.Context, storeID string) ([]*domain.StockRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"storeId": storeID}, options.Find().SetSort(sharedmongo.SortAscending("productId")))
	if err != nil {
		return nil, fmt.Errorf("failed to list stock records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*domain.StockRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode stock records: %w", err)
	}
	return records, nil
}

func (r *StockRepository) ListStoreIDs(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "storeId", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func decrementFilter(storeID, productID string, delta int64) bson.M {
	return bson.M{
		"storeId":      storeID,
		"productId":    productID,
		"currentStock": bson.M{"$gte": -delta},
	}
}

func incrementFilter(storeID, productID string, delta int64) bson.M {
	return bson.M{
		"storeId":      storeID,
		"productId":    productID,
		"currentStock": bson.M{"$lte": math.MaxInt64 - delta},
	}
}

func adjustUpdate(delta int64) bson.M {
	return sharedmongo.BuildIncrementUpdate("currentStock", delta)
}

func changeFrom(after *domain.StockRecord, delta int64, created bool) *domain.StockChange {
	return &domain.StockChange{
		StoreID:       after.StoreID,
		ProductID:     after.ProductID,
		Delta:         delta,
		PreviousStock: after.CurrentStock - delta,
		NewStock:      after.CurrentStock,
		Created:       created,
		Record:        after,
	}
}
