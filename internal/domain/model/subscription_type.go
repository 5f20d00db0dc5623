package model

import (
	"time"

	"recurrent-billing/internal/domain"
)

// SubscriptionType is a purchasable product with a fixed period and list price.
type SubscriptionType struct {
	ID                     string
	Code                   string
	Name                   string
	Price                  int64 // minor units
	LengthDays             int
	Active                 bool    // purchasable; inactive types cannot be charged
	Renewable              bool    // a successful charge schedules the next one
	NextSubscriptionTypeID *string // type renewals move into, if any
	CreatedAt              time.Time
}

func (t *SubscriptionType) IsZero() bool { return t == nil || t.ID == "" }

// Period is the length of one paid period.
func (t *SubscriptionType) Period() time.Duration {
	return time.Duration(t.LengthDays) * 24 * time.Hour
}

// NewSubscriptionType validates and constructs a subscription type.
func NewSubscriptionType(id, code, name string, price int64, lengthDays int, renewable bool) (*SubscriptionType, error) {
	if id == "" || code == "" || name == "" || lengthDays <= 0 || price <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionType{
		ID:         id,
		Code:       code,
		Name:       name,
		Price:      price,
		LengthDays: lengthDays,
		Active:     true,
		Renewable:  renewable,
		CreatedAt:  time.Now(),
	}, nil
}
