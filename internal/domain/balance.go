package domain

import (
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of a customer account. Accounts are
// closed by status, never deleted.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

// BalanceRecord is the running credit tab of one customer at one store.
// Every successful write increments Version by exactly one.
type BalanceRecord struct {
	StoreID            string        `bson:"storeId" json:"storeId"`
	CustomerPhone      string        `bson:"customerPhone" json:"customerPhone"`
	CustomerName       string        `bson:"customerName" json:"customerName"`
	OutstandingBalance Money         `bson:"outstandingBalance" json:"outstandingBalance"`
	CreditLimit        Money         `bson:"creditLimit" json:"creditLimit"`
	Version            int64         `bson:"version" json:"version"`
	Status             AccountStatus `bson:"status" json:"status"`
	CreatedAt          time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// NewBalanceRecord opens an account with a zero balance at version 0
func NewBalanceRecord(storeID, phone, name string, creditLimit Money) (*BalanceRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrCustomerNameRequired
	}
	if creditLimit.IsNegative() {
		return nil, NewFieldError("creditLimit", "must not be negative")
	}

	now := time.Now().UTC()
	return &BalanceRecord{
		StoreID:            storeID,
		CustomerPhone:      phone,
		CustomerName:       name,
		OutstandingBalance: Zero,
		CreditLimit:        creditLimit,
		Version:            0,
		Status:             AccountStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// AvailableCredit is the amount that can still be charged before the limit
func (b *BalanceRecord) AvailableCredit() Money {
	return b.CreditLimit.Sub(b.OutstandingBalance)
}

// CheckCredit verifies that charging amount keeps the balance within the limit
func (b *BalanceRecord) CheckCredit(amount Money) error {
	if b.OutstandingBalance.Add(amount).GreaterThan(b.CreditLimit) {
		return &CreditLimitExceededError{
			Limit:     b.CreditLimit,
			Current:   b.OutstandingBalance,
			Available: b.AvailableCredit(),
			Requested: amount,
		}
	}
	return nil
}

// IsActive reports whether the account accepts new activity
func (b *BalanceRecord) IsActive() bool {
	return b.Status == "" || b.Status == AccountStatusActive
}
