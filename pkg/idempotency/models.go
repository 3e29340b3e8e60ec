package idempotency

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Outcome is the cached result of a completed mutating operation.
type Outcome struct {
	TransactionID    string `bson:"transactionId" json:"transactionId"`
	ResultingBalance string `bson:"resultingBalance" json:"resultingBalance"`
	Success          bool   `bson:"success" json:"success"`
	Message          string `bson:"message,omitempty" json:"message,omitempty"`
}

// Entry is a stored idempotency key together with the outcome it produced.
// Entries are only written once the operation has committed.
type Entry struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	Key                string             `bson:"key"`
	Scope              string             `bson:"scope"` // operation + store, e.g. "credit_sale:store-1"
	RequestFingerprint string             `bson:"requestFingerprint,omitempty"`
	Outcome            Outcome            `bson:"outcome"`
	CreatedAt          time.Time          `bson:"createdAt"`
	ExpiresAt          time.Time          `bson:"expiresAt"` // TTL index
}

// IsExpired reports whether the entry outlived its retention period. The TTL
// monitor deletes lazily, so readers check expiry themselves.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
