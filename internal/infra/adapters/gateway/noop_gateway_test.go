//go:build !integration

package gateway

import (
	"context"
	"testing"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
)

func TestNoopGateway_ChargeIsIdempotentByPayment(t *testing.T) {
	ctx := context.Background()
	g := NewNoopGateway("")
	p := &model.Payment{ID: "pay-1", Amount: 500}

	first, err := g.Charge(ctx, p, "tok_1")
	if err != nil || first.Status != adapter.ChargeOK {
		t.Fatalf("expected ok charge, got %+v err=%v", first, err)
	}
	second, _ := g.Charge(ctx, p, "tok_1")
	if second.ExternalID != first.ExternalID {
		t.Errorf("repeated charge must return the original result, got %s and %s", first.ExternalID, second.ExternalID)
	}
	if n := g.SuccessfulCharges(); n != 1 {
		t.Errorf("expected one successful charge, got %d", n)
	}

	lookup, _ := g.LookupCharge(ctx, p)
	if lookup.Status != adapter.ChargeOK {
		t.Errorf("lookup should report the charge, got %s", lookup.Status)
	}
	missing, _ := g.LookupCharge(ctx, &model.Payment{ID: "pay-2"})
	if missing.Status != adapter.ChargeNotFound {
		t.Errorf("expected not_found, got %s", missing.Status)
	}
}

func TestNoopGateway_TokenLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewNoopGateway("noop")
	p := &model.Payment{ID: "pay-1", Amount: 500}

	res, err := g.Complete(ctx, p, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Settlement != adapter.SettlementPaid || !res.HasRecurrentToken() {
		t.Fatalf("expected paid completion with token, got %+v", res)
	}
	tok := res.RecurrentToken()

	exp, _ := g.CheckExpire(ctx, []string{tok, "unknown"})
	if _, ok := exp[tok]; !ok || len(exp) != 1 {
		t.Errorf("expected expiry for issued token only, got %v", exp)
	}
	if ok, _ := g.CheckValid(ctx, tok); !ok {
		t.Error("fresh token should be valid")
	}
	_ = g.CancelToken(ctx, tok)
	if ok, _ := g.CheckValid(ctx, tok); ok {
		t.Error("cancelled token should be invalid")
	}
	charge, _ := g.Charge(ctx, &model.Payment{ID: "pay-2", Amount: 500}, tok)
	if charge.Status != adapter.ChargeFailure {
		t.Errorf("charge with cancelled token should fail, got %s", charge.Status)
	}
}

func TestNoopGateway_Refund(t *testing.T) {
	ctx := context.Background()
	g := NewNoopGateway("noop")
	p := &model.Payment{ID: "pay-1", Amount: 1000}

	if r, _ := g.Refund(ctx, p, 600); !r.OK {
		t.Fatal("first refund should succeed")
	}
	if r, _ := g.Refund(ctx, p, 600); r.OK {
		t.Error("refund over the captured amount should fail")
	}
}
