package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase is the payment ledger and the customer-facing gateway round trip.
type LedgerUseCase interface {
	Find(ctx context.Context, id string) (*model.Payment, error)
	// UpdateStatus applies a monotone status change; notify sends an operator alert.
	UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, notify bool) (*model.Payment, error)
	TotalAmountSum(ctx context.Context, from, to time.Time) (int64, error)
	ListByPeriod(ctx context.Context, from, to time.Time, limit int) ([]*model.Payment, error)
	// ExpireStale moves checkouts abandoned before olderThan to timeout.
	ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error)

	// Checkout creates a form payment for a subscription type and begins it at the gateway.
	Checkout(ctx context.Context, req CheckoutRequest) (*model.Payment, adapter.BeginResult, error)
	// Begin (re)starts the gateway round trip of a form payment.
	Begin(ctx context.Context, paymentID string) (adapter.BeginResult, error)
	// Complete finishes the round trip with the parameters the gateway sent back.
	Complete(ctx context.Context, gateway, paymentID string, params map[string]string) (*Completion, error)
}

type CheckoutRequest struct {
	UserID             string
	SubscriptionTypeID string
	Gateway            string
	Currency           string
	AdditionalAmount   int64
	AdditionalType     model.AdditionalType
}

type Completion struct {
	Payment    *model.Payment
	Settlement adapter.Settlement
	Recurrent  *model.RecurrentPayment
	// RedirectURL is set when the gateway needs an explicit authorization step.
	RedirectURL string
}

type ledgerUC struct {
	payments  repository.PaymentRepository
	types     repository.SubscriptionTypeRepository
	gateways  adapter.GatewayRegistry
	recurrent RecurrentUseCase
	tm        repository.TransactionManager
	notifier  adapter.Notifier
	timeout   time.Duration
	log       *zerolog.Logger
}

func NewLedgerUseCase(
	payments repository.PaymentRepository,
	types repository.SubscriptionTypeRepository,
	gateways adapter.GatewayRegistry,
	recurrent RecurrentUseCase,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	timeout time.Duration,
	logger *zerolog.Logger,
) *ledgerUC {
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := logger.With().Str("component", "LedgerUseCase").Logger()
	return &ledgerUC{payments: payments, types: types, gateways: gateways, recurrent: recurrent, tm: tm, notifier: notifier, timeout: timeout, log: &l}
}

func (u *ledgerUC) Find(ctx context.Context, id string) (*model.Payment, error) {
	return u.payments.FindByID(ctx, nil, id)
}

func (u *ledgerUC) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, notify bool) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: payment %s %s -> %s", domain.ErrInvalidTransition, p.ID, p.Status, status)
	}
	var paidAt *time.Time
	if status == model.PaymentStatusPaid {
		now := time.Now()
		paidAt = &now
	}
	ok, err := u.payments.UpdateStatusIf(ctx, nil, p.ID, []model.PaymentStatus{p.Status}, status, paidAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: payment %s changed concurrently", domain.ErrInvalidTransition, p.ID)
	}
	prev := p.Status
	p.Status = status
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	metrics.IncPayment(string(status))
	u.log.Info().Str("payment_id", p.ID).Str("from", string(prev)).Str("to", string(status)).Msg("payment status updated")
	if prev == model.PaymentStatusAuthorized {
		u.followParent(ctx, p)
	}

	if notify && u.notifier != nil {
		alert := adapter.Alert{
			Level: adapter.AlertInfo,
			Title: "payment status changed",
			Fields: map[string]string{
				"payment_id":      p.ID,
				"variable_symbol": p.VariableSymbol,
				"from":            string(prev),
				"to":              string(status),
			},
		}
		if err := u.notifier.Notify(ctx, alert); err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("status notification failed")
		}
	}
	return p, nil
}

func (u *ledgerUC) TotalAmountSum(ctx context.Context, from, to time.Time) (int64, error) {
	return u.payments.TotalAmountSum(ctx, nil, from, to)
}

func (u *ledgerUC) ListByPeriod(ctx context.Context, from, to time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	return u.payments.ListByPeriod(ctx, nil, from, to, limit)
}

func (u *ledgerUC) ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := u.payments.ListStaleForm(ctx, nil, olderThan, limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		ok, err := u.payments.UpdateStatusIf(ctx, nil, p.ID, []model.PaymentStatus{model.PaymentStatusForm}, model.PaymentStatusTimeout, nil)
		if err != nil {
			return n, fmt.Errorf("time out payment %s: %w", p.ID, err)
		}
		if ok {
			n++
			metrics.IncPayment(string(model.PaymentStatusTimeout))
		}
	}
	return n, nil
}

func (u *ledgerUC) Checkout(ctx context.Context, req CheckoutRequest) (*model.Payment, adapter.BeginResult, error) {
	if req.UserID == "" || req.SubscriptionTypeID == "" || req.AdditionalAmount < 0 {
		return nil, adapter.BeginResult{}, domain.ErrInvalidArgument
	}
	if _, err := u.gateways.Get(req.Gateway); err != nil {
		return nil, adapter.BeginResult{}, err
	}
	st, err := u.types.FindByID(ctx, nil, req.SubscriptionTypeID)
	if err != nil {
		return nil, adapter.BeginResult{}, err
	}
	if !st.Active {
		return nil, adapter.BeginResult{}, fmt.Errorf("%w: subscription type %s is not purchasable", domain.ErrInvalidArgument, st.Code)
	}
	addType := req.AdditionalType
	if req.AdditionalAmount == 0 {
		addType = model.AdditionalTypeNone
	}
	now := time.Now()
	p := &model.Payment{
		ID:                 uuid.NewString(),
		VariableSymbol:     ulid.Make().String(),
		UserID:             req.UserID,
		Amount:             st.Price + req.AdditionalAmount,
		AdditionalAmount:   req.AdditionalAmount,
		AdditionalType:     addType,
		Currency:           req.Currency,
		Status:             model.PaymentStatusForm,
		Gateway:            req.Gateway,
		SubscriptionTypeID: st.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := u.payments.Save(ctx, nil, p); err != nil {
		return nil, adapter.BeginResult{}, err
	}
	metrics.IncPayment(string(model.PaymentStatusForm))
	res, err := u.Begin(ctx, p.ID)
	if err != nil {
		return p, adapter.BeginResult{}, err
	}
	if res.ExternalID != "" {
		p.ExternalID = res.ExternalID
	}
	return p, res, nil
}

func (u *ledgerUC) Begin(ctx context.Context, paymentID string) (adapter.BeginResult, error) {
	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return adapter.BeginResult{}, err
	}
	if p.Status != model.PaymentStatusForm {
		return adapter.BeginResult{}, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
	}
	gw, err := u.gateways.Get(p.Gateway)
	if err != nil {
		return adapter.BeginResult{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	res, err := gw.Begin(callCtx, p)
	cancel()
	if err != nil {
		u.log.Error().Err(err).Str("payment_id", p.ID).Str("gateway", p.Gateway).Msg("gateway begin failed")
		return adapter.BeginResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if res.ExternalID != "" {
		if err := u.payments.SetGatewayResult(ctx, nil, p.ID, res.ExternalID, "", ""); err != nil {
			return adapter.BeginResult{}, err
		}
	}
	return res, nil
}

func (u *ledgerUC) Complete(ctx context.Context, gateway, paymentID string, params map[string]string) (*Completion, error) {
	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		// bank references carry the variable symbol instead of the id
		p, err = u.payments.FindByVariableSymbol(ctx, nil, paymentID)
	}
	if err != nil {
		return nil, err
	}
	if p.Gateway != gateway {
		return nil, fmt.Errorf("%w: payment %s belongs to gateway %s", domain.ErrInvalidArgument, p.ID, p.Gateway)
	}
	out := &Completion{Payment: p}
	switch p.Status {
	case model.PaymentStatusPaid:
		out.Settlement = adapter.SettlementPaid
		return out, nil
	case model.PaymentStatusForm, model.PaymentStatusAuthorized:
	default:
		out.Settlement = adapter.SettlementFailed
		return out, nil
	}

	gw, err := u.gateways.Get(p.Gateway)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	res, err := gw.Complete(callCtx, p, params)
	cancel()
	if err != nil {
		u.log.Error().Err(err).Str("payment_id", p.ID).Str("gateway", p.Gateway).Msg("gateway complete failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	out.Settlement = res.Settlement

	switch res.Settlement {
	case adapter.SettlementUnsettled:
		if auth, err := u.gateways.Authorizer(p.Gateway); err == nil {
			url, err := auth.AuthorizationURL(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
			}
			out.RedirectURL = url
		}
		return out, nil
	case adapter.SettlementFailed:
		if err := u.settle(ctx, p, model.PaymentStatusFail, res); err != nil {
			return nil, err
		}
		return out, nil
	}

	to := model.PaymentStatusPaid
	if res.Authorized {
		to = model.PaymentStatusAuthorized
	}
	if p.Status != to {
		if err := u.settle(ctx, p, to, res); err != nil {
			return nil, err
		}
	}
	if res.HasRecurrentToken() && u.recurrent != nil && u.gateways.Has(p.Gateway, adapter.CapRecurrent) {
		rp, err := u.recurrent.CreateFromPayment(ctx, p.ID, res.RecurrentToken(), res.TokenExpiresAt)
		if err != nil {
			// the payment stands; the chain can be created by re-delivering the event
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("recurrent chain creation failed")
		} else {
			out.Recurrent = rp
		}
	}
	return out, nil
}

func (u *ledgerUC) settle(ctx context.Context, p *model.Payment, to model.PaymentStatus, res adapter.CompleteResult) error {
	var paidAt *time.Time
	if to == model.PaymentStatusPaid {
		now := time.Now()
		paidAt = &now
	}
	won := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.payments.UpdateStatusIf(ctx, tx, p.ID,
			[]model.PaymentStatus{model.PaymentStatusForm, model.PaymentStatusAuthorized}, to, paidAt)
		if err != nil {
			return err
		}
		won = ok
		if !ok {
			return nil
		}
		externalID := res.ExternalID
		if externalID == "" {
			externalID = p.ExternalID
		}
		return u.payments.SetGatewayResult(ctx, tx, p.ID, externalID, res.Code, res.Message)
	})
	if err != nil {
		return err
	}
	if !won {
		fresh, err := u.payments.FindByID(ctx, nil, p.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if fresh != nil {
			*p = *fresh
		}
		return nil
	}
	p.Status = to
	p.PaidAt = paidAt
	p.ResultCode, p.ResultMessage = res.Code, res.Message
	metrics.IncPayment(string(to))
	if to == model.PaymentStatusPaid {
		metrics.AddPaymentRevenue(p.Currency, p.Amount)
	}
	u.log.Info().Str("payment_id", p.ID).Str("gateway", p.Gateway).Str("status", string(to)).
		Str("result_code", res.Code).Msg("payment completed")
	u.followParent(ctx, p)
	return nil
}

// followParent moves the pending chain of an authorized payment along with
// the payment's final status. The payment stands even if this fails; the
// charge engine refuses to charge a pending chain with an unpaid parent.
func (u *ledgerUC) followParent(ctx context.Context, p *model.Payment) {
	if u.recurrent == nil || p.Status == model.PaymentStatusAuthorized {
		return
	}
	if _, err := u.recurrent.ParentSettled(ctx, p.ID, p.Status); err != nil {
		u.log.Error().Err(err).Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("pending chain update failed")
	}
}
