package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionTypeRepository = (*subscriptionTypeRepo)(nil)

type subscriptionTypeRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionTypeRepo(pool *pgxpool.Pool) *subscriptionTypeRepo {
	return &subscriptionTypeRepo{pool: pool}
}

func (r *subscriptionTypeRepo) Save(ctx context.Context, tx repository.Tx, t *model.SubscriptionType) error {
	const q = `
INSERT INTO subscription_types (id, code, name, price, length_days, active, renewable, next_subscription_type_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  code=$2, name=$3, price=$4, length_days=$5, active=$6, renewable=$7, next_subscription_type_id=$8;`
	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.Code, t.Name, t.Price, t.LengthDays, t.Active, t.Renewable, t.NextSubscriptionTypeID, t.CreatedAt)
	return mapErr(err)
}

func (r *subscriptionTypeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionType, error) {
	const q = `SELECT id, code, name, price, length_days, active, renewable, next_subscription_type_id, created_at FROM subscription_types WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	t := &model.SubscriptionType{}
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Price, &t.LengthDays, &t.Active, &t.Renewable, &t.NextSubscriptionTypeID, &t.CreatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return t, nil
}
