//go:build !integration

package web_test

import (
	"context"
	"time"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/usecase"
)

// Unset function fields answer domain.ErrNotFound so a test only wires what it exercises.

type mockRecurrentUC struct {
	CreateFromPaymentFunc func(ctx context.Context, paymentID, token string, expiresAt *time.Time) (*model.RecurrentPayment, error)
	StopByAdminFunc       func(ctx context.Context, id, adminID, note string) (*model.RecurrentPayment, error)
	StopByUserFunc        func(ctx context.Context, userID, id string) (*model.RecurrentPayment, error)
	EraseUserFunc         func(ctx context.Context, userID, actorID string) (*usecase.ErasureResult, error)
	ReactivateFunc        func(ctx context.Context, id, adminID string) (*model.RecurrentPayment, error)
	ListByUserFunc        func(ctx context.Context, userID string) ([]*model.RecurrentPayment, error)
	DescribeFunc          func(ctx context.Context, id string) (*usecase.RecurrentView, error)
}

var _ usecase.RecurrentUseCase = (*mockRecurrentUC)(nil)

func (m *mockRecurrentUC) CreateFromPayment(ctx context.Context, paymentID, token string, expiresAt *time.Time) (*model.RecurrentPayment, error) {
	if m.CreateFromPaymentFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.CreateFromPaymentFunc(ctx, paymentID, token, expiresAt)
}

func (m *mockRecurrentUC) StopByAdmin(ctx context.Context, id, adminID, note string) (*model.RecurrentPayment, error) {
	if m.StopByAdminFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.StopByAdminFunc(ctx, id, adminID, note)
}

func (m *mockRecurrentUC) StopByUser(ctx context.Context, userID, id string) (*model.RecurrentPayment, error) {
	if m.StopByUserFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.StopByUserFunc(ctx, userID, id)
}

func (m *mockRecurrentUC) EraseUser(ctx context.Context, userID, actorID string) (*usecase.ErasureResult, error) {
	if m.EraseUserFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.EraseUserFunc(ctx, userID, actorID)
}

func (m *mockRecurrentUC) Reactivate(ctx context.Context, id, adminID string) (*model.RecurrentPayment, error) {
	if m.ReactivateFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.ReactivateFunc(ctx, id, adminID)
}

func (m *mockRecurrentUC) ParentSettled(ctx context.Context, paymentID string, status model.PaymentStatus) (*model.RecurrentPayment, error) {
	return nil, nil
}

func (m *mockRecurrentUC) Get(ctx context.Context, id string) (*model.RecurrentPayment, error) {
	return nil, domain.ErrNotFound
}

func (m *mockRecurrentUC) ListByUser(ctx context.Context, userID string) ([]*model.RecurrentPayment, error) {
	if m.ListByUserFunc == nil {
		return nil, nil
	}
	return m.ListByUserFunc(ctx, userID)
}

func (m *mockRecurrentUC) Describe(ctx context.Context, id string) (*usecase.RecurrentView, error) {
	if m.DescribeFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.DescribeFunc(ctx, id)
}

type mockDuplicates struct {
	ListFunc    func(ctx context.Context) ([]usecase.DuplicateGroup, error)
	ResolveFunc func(ctx context.Context, keepID, stopID, adminID string) (*model.RecurrentPayment, error)
}

func (m *mockDuplicates) ListDuplicates(ctx context.Context) ([]usecase.DuplicateGroup, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx)
}

func (m *mockDuplicates) Resolve(ctx context.Context, keepID, stopID, adminID string) (*model.RecurrentPayment, error) {
	if m.ResolveFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.ResolveFunc(ctx, keepID, stopID, adminID)
}

type mockRefunder struct {
	RefundFunc func(ctx context.Context, paymentID string, amount int64, actorID string) (*usecase.RefundOutcome, error)
}

func (m *mockRefunder) Refund(ctx context.Context, paymentID string, amount int64, actorID string) (*usecase.RefundOutcome, error) {
	if m.RefundFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.RefundFunc(ctx, paymentID, amount, actorID)
}

type mockCharger struct {
	ChargeFunc func(ctx context.Context, id string) (*usecase.ChargeReport, error)
}

func (m *mockCharger) Charge(ctx context.Context, id string) (*usecase.ChargeReport, error) {
	if m.ChargeFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.ChargeFunc(ctx, id)
}

type mockLedger struct {
	FindFunc           func(ctx context.Context, id string) (*model.Payment, error)
	UpdateStatusFunc   func(ctx context.Context, id string, status model.PaymentStatus, notify bool) (*model.Payment, error)
	TotalAmountSumFunc func(ctx context.Context, from, to time.Time) (int64, error)
	ListByPeriodFunc   func(ctx context.Context, from, to time.Time, limit int) ([]*model.Payment, error)
	CheckoutFunc       func(ctx context.Context, req usecase.CheckoutRequest) (*model.Payment, adapter.BeginResult, error)
	BeginFunc          func(ctx context.Context, paymentID string) (adapter.BeginResult, error)
}

var _ usecase.LedgerUseCase = (*mockLedger)(nil)

func (m *mockLedger) Find(ctx context.Context, id string) (*model.Payment, error) {
	if m.FindFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.FindFunc(ctx, id)
}

func (m *mockLedger) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, notify bool) (*model.Payment, error) {
	if m.UpdateStatusFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.UpdateStatusFunc(ctx, id, status, notify)
}

func (m *mockLedger) TotalAmountSum(ctx context.Context, from, to time.Time) (int64, error) {
	if m.TotalAmountSumFunc == nil {
		return 0, nil
	}
	return m.TotalAmountSumFunc(ctx, from, to)
}

func (m *mockLedger) ListByPeriod(ctx context.Context, from, to time.Time, limit int) ([]*model.Payment, error) {
	if m.ListByPeriodFunc == nil {
		return nil, nil
	}
	return m.ListByPeriodFunc(ctx, from, to, limit)
}

func (m *mockLedger) ExpireStale(context.Context, time.Time, int) (int, error) { return 0, nil }

func (m *mockLedger) Checkout(ctx context.Context, req usecase.CheckoutRequest) (*model.Payment, adapter.BeginResult, error) {
	if m.CheckoutFunc == nil {
		return nil, adapter.BeginResult{}, domain.ErrNotFound
	}
	return m.CheckoutFunc(ctx, req)
}

func (m *mockLedger) Begin(ctx context.Context, paymentID string) (adapter.BeginResult, error) {
	if m.BeginFunc == nil {
		return adapter.BeginResult{}, domain.ErrNotFound
	}
	return m.BeginFunc(ctx, paymentID)
}

func (m *mockLedger) Complete(context.Context, string, string, map[string]string) (*usecase.Completion, error) {
	return nil, domain.ErrNotFound
}

type mockLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.AllowFunc(ctx, key, limit, window)
}
