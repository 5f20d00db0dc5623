//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"recurrent-billing/internal/domain/model"
)

func seedSubscriptionType(t *testing.T, id string, price int64) *model.SubscriptionType {
	t.Helper()
	st, err := model.NewSubscriptionType(id, id, id, price, 30, true)
	if err != nil {
		t.Fatalf("build type: %v", err)
	}
	if err := NewSubscriptionTypeRepo(testPool).Save(context.Background(), nil, st); err != nil {
		t.Fatalf("save type: %v", err)
	}
	return st
}

func seedPaidPayment(t *testing.T, userID, typeID string, amount int64) *model.Payment {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &model.Payment{
		ID:                 uuid.NewString(),
		VariableSymbol:     uuid.NewString()[:12],
		UserID:             userID,
		Amount:             amount,
		Currency:           "EUR",
		Status:             model.PaymentStatusPaid,
		Gateway:            "card",
		SubscriptionTypeID: typeID,
		PaidAt:             &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := NewPaymentRepo(testPool).Save(context.Background(), nil, p); err != nil {
		t.Fatalf("save payment: %v", err)
	}
	return p
}
