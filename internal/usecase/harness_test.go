//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/adapters/gateway"
	"recurrent-billing/internal/usecase"
)

const (
	testGateway = "card"
	testType    = "monthly"
)

var allButAuthorization = []adapter.Capability{
	adapter.CapRecurrent, adapter.CapRefund, adapter.CapCancelToken,
	adapter.CapTokenValidation, adapter.CapTokenExpiry, adapter.CapChargeLookup,
}

func defaultPolicy() usecase.ChargePolicy {
	return usecase.ChargePolicy{
		Backoff:             []time.Duration{24 * time.Hour, 72 * time.Hour},
		FastChargeThreshold: 24 * time.Hour,
		Reactivation:        usecase.ReactivationKeepTerms,
	}
}

// harness wires every use case against in-memory repositories and one mock gateway.
type harness struct {
	payments   *MockPaymentRepo
	types      *MockSubscriptionTypeRepo
	recurrents *MockRecurrentRepo
	tm         *MockTxManager
	locker     *MockLocker
	notifier   *MockNotifier
	registry   *gateway.Registry
	gw         *MockGateway
	policy     usecase.ChargePolicy

	charge     *usecase.ChargeUseCase
	tokens     *usecase.TokenUseCase
	recurrent  usecase.RecurrentUseCase
	duplicates *usecase.DuplicateUseCase
	refunds    *usecase.RefundUseCase
	ledger     usecase.LedgerUseCase
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, defaultPolicy(), NewMockGateway(testGateway, allButAuthorization...))
}

func newHarnessWith(t *testing.T, policy usecase.ChargePolicy, gw *MockGateway) *harness {
	t.Helper()
	h := &harness{
		payments:   NewMockPaymentRepo(),
		types:      NewMockSubscriptionTypeRepo(),
		recurrents: NewMockRecurrentRepo(),
		tm:         NewMockTxManager(),
		locker:     NewMockLocker(),
		notifier:   &MockNotifier{},
		registry:   gateway.NewRegistry(),
		gw:         gw,
		policy:     policy,
	}
	h.recurrents.payments = h.payments
	if err := h.registry.Register(gw); err != nil {
		t.Fatalf("register gateway: %v", err)
	}
	logger := newTestLogger()
	h.charge = h.newCharge(usecase.ChargeConfig{ChargeTimeout: 5 * time.Second, BatchSize: 50})
	h.tokens = usecase.NewTokenUseCase(h.recurrents, h.registry, 2, time.Second, logger)
	h.recurrent = usecase.NewRecurrentUseCase(h.recurrents, h.payments, h.types, h.registry, h.tokens, h.tm, policy, time.Second, logger)
	h.duplicates = usecase.NewDuplicateUseCase(h.recurrents, h.tm, h.notifier, logger)
	h.refunds = usecase.NewRefundUseCase(h.payments, h.registry, h.tm, time.Second, logger)
	h.ledger = usecase.NewLedgerUseCase(h.payments, h.types, h.registry, h.recurrent, h.tm, h.notifier, time.Second, logger)

	h.seedType(t, testType, 1000, true)
	return h
}

// newCharge builds a charge engine over the harness state with cfg (policy is always the harness policy).
func (h *harness) newCharge(cfg usecase.ChargeConfig) *usecase.ChargeUseCase {
	cfg.Policy = h.policy
	return usecase.NewChargeUseCase(h.recurrents, h.payments, h.types, h.registry, h.tm, h.locker, h.notifier, cfg, newTestLogger())
}

func (h *harness) seedType(t *testing.T, id string, price int64, renewable bool) *model.SubscriptionType {
	t.Helper()
	st, err := model.NewSubscriptionType(id, id, "Plan "+id, price, 30, renewable)
	if err != nil {
		t.Fatalf("new subscription type: %v", err)
	}
	if err := h.types.Save(context.Background(), nil, st); err != nil {
		t.Fatalf("save subscription type: %v", err)
	}
	return st
}

func (h *harness) updateType(t *testing.T, id string, fn func(st *model.SubscriptionType)) {
	t.Helper()
	st, err := h.types.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("find subscription type: %v", err)
	}
	fn(st)
	_ = h.types.Save(context.Background(), nil, st)
}

// seedPayment stores a payment of the harness gateway in status.
func (h *harness) seedPayment(t *testing.T, userID, typeID string, status model.PaymentStatus, amount int64) *model.Payment {
	t.Helper()
	now := time.Now()
	p := &model.Payment{
		ID:                 uuid.NewString(),
		VariableSymbol:     uuid.NewString()[:8],
		UserID:             userID,
		Amount:             amount,
		Currency:           "EUR",
		Status:             status,
		Gateway:            h.gw.Code(),
		SubscriptionTypeID: typeID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if status == model.PaymentStatusPaid {
		p.PaidAt = &now
	}
	if err := h.payments.Save(context.Background(), nil, p); err != nil {
		t.Fatalf("save payment: %v", err)
	}
	return p
}

// startChain creates a chain from a fresh paid payment and makes it due now.
func (h *harness) startChain(t *testing.T, userID string) *model.RecurrentPayment {
	t.Helper()
	p := h.seedPayment(t, userID, testType, model.PaymentStatusPaid, 1000)
	rp, err := h.recurrent.CreateFromPayment(context.Background(), p.ID, "tok-"+userID, nil)
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	h.makeDue(rp.ID, time.Now().Add(-time.Minute))
	rp.ChargeAt = time.Now().Add(-time.Minute)
	return rp
}

func (h *harness) makeDue(id string, at time.Time) {
	h.recurrents.patch(id, func(rp *model.RecurrentPayment) { rp.ChargeAt = at })
}

func (h *harness) mustGet(t *testing.T, id string) *model.RecurrentPayment {
	t.Helper()
	rp, err := h.recurrents.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("find recurrent %s: %v", id, err)
	}
	return rp
}

// chargePayments returns the payments created by the charge engine.
func (h *harness) chargePayments(status model.PaymentStatus) []*model.Payment {
	var out []*model.Payment
	for _, p := range h.payments.byStatus(status) {
		if p.RecurrentCharge {
			out = append(out, p)
		}
	}
	return out
}

func within(got, want time.Time, tolerance time.Duration) bool {
	d := got.Sub(want)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
