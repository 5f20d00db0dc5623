package usecase

import (
	"context"
	"errors"
	"fmt"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
)

// ChargeQuote is what the next charge of a link will bill.
type ChargeQuote struct {
	SubscriptionType *model.SubscriptionType
	BaseAmount       int64 // subscription price or the chain's custom amount
	AdditionalAmount int64 // recurrent additions carried over from the parent payment
	AdditionalType   model.AdditionalType
	Currency         string // taken from the parent payment
	Custom           bool
}

func (q *ChargeQuote) Amount() int64 { return q.BaseAmount + q.AdditionalAmount }

// ChargeResolver computes the subscription type and amount of a link's next charge.
type ChargeResolver struct {
	types    repository.SubscriptionTypeRepository
	payments repository.PaymentRepository
}

func NewChargeResolver(types repository.SubscriptionTypeRepository, payments repository.PaymentRepository) *ChargeResolver {
	return &ChargeResolver{types: types, payments: payments}
}

// Resolve returns ErrUnresolvableCharge (wrapped) when the target subscription
// type is gone or not purchasable.
func (r *ChargeResolver) Resolve(ctx context.Context, rp *model.RecurrentPayment) (*ChargeQuote, error) {
	typeID := rp.SubscriptionTypeID
	if rp.NextSubscriptionTypeID != nil && *rp.NextSubscriptionTypeID != "" {
		typeID = *rp.NextSubscriptionTypeID
	} else {
		current, err := r.findType(ctx, typeID)
		if err != nil {
			return nil, err
		}
		if current.NextSubscriptionTypeID != nil && *current.NextSubscriptionTypeID != "" {
			typeID = *current.NextSubscriptionTypeID
		}
	}

	st, err := r.findType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, fmt.Errorf("%w: subscription type %s is not purchasable", domain.ErrUnresolvableCharge, st.Code)
	}

	q := &ChargeQuote{SubscriptionType: st, BaseAmount: st.Price}
	if rp.CustomAmount != nil {
		if *rp.CustomAmount <= 0 {
			return nil, fmt.Errorf("%w: custom amount %d", domain.ErrUnresolvableCharge, *rp.CustomAmount)
		}
		q.BaseAmount = *rp.CustomAmount
		q.Custom = true
	}

	// Single additions (e.g. a one-off donation) stay with the original order.
	parent, err := r.payments.FindByID(ctx, nil, rp.ParentPaymentID)
	switch {
	case err == nil:
		q.Currency = parent.Currency
		if add := parent.RecurrentAdditionalAmount(); add > 0 {
			q.AdditionalAmount = add
			q.AdditionalType = model.AdditionalTypeRecurrent
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("load parent payment %s: %w", rp.ParentPaymentID, err)
	}
	return q, nil
}

func (r *ChargeResolver) findType(ctx context.Context, id string) (*model.SubscriptionType, error) {
	st, err := r.types.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: subscription type %s not found", domain.ErrUnresolvableCharge, id)
		}
		return nil, fmt.Errorf("load subscription type %s: %w", id, err)
	}
	return st, nil
}
