package repository

import (
	"context"

	"recurrent-billing/internal/domain/model"
)

// SubscriptionTypeRepository reads product pricing and renewal eligibility.
type SubscriptionTypeRepository interface {
	Save(ctx context.Context, tx Tx, t *model.SubscriptionType) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.SubscriptionType, error)
}
