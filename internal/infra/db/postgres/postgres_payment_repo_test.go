//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
)

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should save and find a payment by id and variable symbol", func(t *testing.T) {
		cleanup(t)
		seedSubscriptionType(t, "monthly", 1000)
		p := seedPaidPayment(t, "u1", "monthly", 1000)

		byID, err := repo.FindByID(ctx, nil, p.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if byID.Amount != 1000 || byID.Status != model.PaymentStatusPaid || byID.PaidAt == nil {
			t.Errorf("unexpected payment %+v", byID)
		}
		byVS, err := repo.FindByVariableSymbol(ctx, nil, p.VariableSymbol)
		if err != nil || byVS.ID != p.ID {
			t.Fatalf("FindByVariableSymbol: %v %+v", err, byVS)
		}
		if _, err := repo.FindByID(ctx, nil, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reject a duplicate variable symbol", func(t *testing.T) {
		cleanup(t)
		seedSubscriptionType(t, "monthly", 1000)
		p := seedPaidPayment(t, "u1", "monthly", 1000)
		dup := *p
		dup.ID = "11111111-1111-1111-1111-111111111111"

		if err := repo.Save(ctx, nil, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should change status only from the expected ones", func(t *testing.T) {
		cleanup(t)
		seedSubscriptionType(t, "monthly", 1000)
		p := seedPaidPayment(t, "u1", "monthly", 1000)

		ok, err := repo.UpdateStatusIf(ctx, nil, p.ID, []model.PaymentStatus{model.PaymentStatusForm}, model.PaymentStatusFail, nil)
		if err != nil || ok {
			t.Fatalf("expected no change, got %v %v", ok, err)
		}
		ok, err = repo.UpdateStatusIf(ctx, nil, p.ID, []model.PaymentStatus{model.PaymentStatusPaid}, model.PaymentStatusRefund, nil)
		if err != nil || !ok {
			t.Fatalf("expected a change, got %v %v", ok, err)
		}
		got, _ := repo.FindByID(ctx, nil, p.ID)
		if got.Status != model.PaymentStatusRefund || got.PaidAt == nil {
			t.Errorf("unexpected payment after update %+v", got)
		}
	})

	t.Run("should keep the external id when the gateway omits it", func(t *testing.T) {
		cleanup(t)
		seedSubscriptionType(t, "monthly", 1000)
		p := seedPaidPayment(t, "u1", "monthly", 1000)

		_ = repo.SetGatewayResult(ctx, nil, p.ID, "ch_1", "ok", "")
		if err := repo.SetGatewayResult(ctx, nil, p.ID, "", "ok", "settled"); err != nil {
			t.Fatalf("SetGatewayResult: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, p.ID)
		if got.ExternalID != "ch_1" || got.ResultMessage != "settled" {
			t.Errorf("unexpected gateway result %+v", got)
		}
	})

	t.Run("should cap refunds at the amount and sum net revenue", func(t *testing.T) {
		cleanup(t)
		seedSubscriptionType(t, "monthly", 1000)
		a := seedPaidPayment(t, "u1", "monthly", 1000)
		seedPaidPayment(t, "u2", "monthly", 500)

		if err := repo.AddRefund(ctx, nil, a.ID, 300, model.PaymentStatusPaid); err != nil {
			t.Fatalf("partial refund: %v", err)
		}
		if err := repo.AddRefund(ctx, nil, a.ID, 800, model.PaymentStatusPaid); err == nil {
			t.Error("expected the check constraint to reject an over-refund")
		}
		sum, err := repo.TotalAmountSum(ctx, nil, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("TotalAmountSum: %v", err)
		}
		if sum != 1200 {
			t.Errorf("expected 1200, got %d", sum)
		}

		if err := repo.AddRefund(ctx, nil, a.ID, 700, model.PaymentStatusRefund); err != nil {
			t.Fatalf("final refund: %v", err)
		}
		if err := repo.AddRefund(ctx, nil, a.ID, 1, model.PaymentStatusRefund); !errors.Is(err, domain.ErrPaymentNotRefundable) {
			t.Errorf("expected ErrPaymentNotRefundable, got %v", err)
		}
	})
}
