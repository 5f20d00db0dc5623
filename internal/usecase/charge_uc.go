package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/infra/metrics"
)

// Result codes written by the engine itself (gateway codes are stored verbatim).
const (
	ResultInterrupted           = "interrupted"
	ResultGatewayError          = "gateway_error"
	ResultUnresolvable          = "unresolvable"
	ResultCapabilityUnsupported = "capability_not_supported"
	ResultReconcileRetry        = "reconcile_retry"
)

type ChargeOutcome string

const (
	OutcomeCharged ChargeOutcome = "charged"
	OutcomeFailed  ChargeOutcome = "failed"  // retry link scheduled
	OutcomeStopped ChargeOutcome = "stopped" // retries exhausted, system_stop
	OutcomeUnknown ChargeOutcome = "unknown" // left in charging for reconciliation
	OutcomeSkipped ChargeOutcome = "skipped"
)

// ChargeReport describes what one charge attempt did to a chain.
type ChargeReport struct {
	RecurrentID   string
	ChainID       string
	Outcome       ChargeOutcome
	PaymentID     string
	Successor     *model.RecurrentPayment
	ResultCode    string
	ResultMessage string
}

type SweepStats struct {
	Reconciled int
	Due        int
	Urgent     int
	Charged    int
	Failed     int
	Stopped    int
	Unknown    int
	Skipped    int
	// FollowUp asks the caller to sweep again right away: the batch was full
	// and held overdue records.
	FollowUp bool
}

// RunAll runs every task and returns once all of them have finished.
type RunAll func(ctx context.Context, tasks []func(ctx context.Context))

// RunSequential is a RunAll that runs tasks one after another.
func RunSequential(ctx context.Context, tasks []func(ctx context.Context)) {
	for _, t := range tasks {
		t(ctx)
	}
}

type ChargeConfig struct {
	Policy        ChargePolicy
	ChargeTimeout time.Duration
	StaleAfter    time.Duration // charging records older than this are reconciled
	BatchSize     int
	LockTTL       time.Duration
}

// ChargeUseCase is the charge engine: it moves due links through
// charging into charged / charge_failed / system_stop.
type ChargeUseCase struct {
	recurrents repository.RecurrentPaymentRepository
	payments   repository.PaymentRepository
	types      repository.SubscriptionTypeRepository
	resolver   *ChargeResolver
	gateways   adapter.GatewayRegistry
	tm         repository.TransactionManager
	locker     adapter.Locker
	notifier   adapter.Notifier
	cfg        ChargeConfig
	log        *zerolog.Logger
}

func NewChargeUseCase(
	recurrents repository.RecurrentPaymentRepository,
	payments repository.PaymentRepository,
	types repository.SubscriptionTypeRepository,
	gateways adapter.GatewayRegistry,
	tm repository.TransactionManager,
	locker adapter.Locker,
	notifier adapter.Notifier,
	cfg ChargeConfig,
	logger *zerolog.Logger,
) *ChargeUseCase {
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.StaleAfter < cfg.ChargeTimeout {
		cfg.StaleAfter = 2 * cfg.ChargeTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL < cfg.ChargeTimeout {
		cfg.LockTTL = cfg.ChargeTimeout + 30*time.Second
	}
	l := logger.With().Str("component", "ChargeUseCase").Logger()
	return &ChargeUseCase{
		recurrents: recurrents,
		payments:   payments,
		types:      types,
		resolver:   NewChargeResolver(types, payments),
		gateways:   gateways,
		tm:         tm,
		locker:     locker,
		notifier:   notifier,
		cfg:        cfg,
		log:        &l,
	}
}

func (uc *ChargeUseCase) Policy() ChargePolicy { return uc.cfg.Policy }

func chainLockKey(chainID string) string { return "recurrent:chain:" + chainID }

// Charge attempts the charge of one link. It returns ErrChargeInProgress when
// another worker holds the chain and ErrNotChargeable when the link is not due
// or already left the chargeable states.
func (uc *ChargeUseCase) Charge(ctx context.Context, id string) (*ChargeReport, error) {
	rp, err := uc.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithChain(ctx, rp.ChainID, rp.ID)
	log := logging.With(ctx, uc.log).With().
		Str("gateway", rp.Gateway).
		Int("retries", rp.Retries).
		Logger()

	now := time.Now()
	if !rp.IsChargeable(now) {
		return skipped(rp), domain.ErrNotChargeable
	}
	if rp.State == model.RecurrentStatePending {
		if err := uc.checkParent(ctx, rp); err != nil {
			return skipped(rp), err
		}
	}

	key := chainLockKey(rp.ChainID)
	lockToken, err := uc.locker.TryLock(ctx, key, uc.cfg.LockTTL)
	if err != nil {
		return skipped(rp), domain.ErrChargeInProgress
	}
	defer func() { _ = uc.locker.Unlock(context.WithoutCancel(ctx), key, lockToken) }()

	won, err := uc.recurrents.Transition(ctx, nil, rp.ID, model.ChargeableStates, model.RecurrentStateCharging, model.StateUpdate{AttemptedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("mark charging: %w", err)
	}
	if !won {
		return skipped(rp), domain.ErrNotChargeable
	}
	rp.State = model.RecurrentStateCharging
	rp.AttemptedAt = &now
	metrics.IncRecurrentTransition(string(model.RecurrentStateCharging))

	// Every exit that did not record an outcome leaves a marked charging link
	// behind for the reconciler, including cancellation and panics.
	recorded := false
	var cause error
	defer func() {
		if recorded {
			return
		}
		msg := "attempt ended without a recorded outcome"
		if cause != nil {
			msg = cause.Error()
		} else if ctx.Err() != nil {
			msg = ctx.Err().Error()
		}
		code := ResultInterrupted
		if _, err := uc.recurrents.Transition(context.WithoutCancel(ctx), nil, rp.ID,
			[]model.RecurrentState{model.RecurrentStateCharging}, model.RecurrentStateCharging,
			model.StateUpdate{ResultCode: &code, ResultMessage: &msg}); err != nil {
			log.Error().Err(err).Msg("failed to record interrupted charge")
		}
		metrics.IncRecurrentCharge(rp.Gateway, string(OutcomeUnknown))
		log.Warn().Str("reason", msg).Msg("charge attempt interrupted; left for reconciliation")
	}()

	quote, err := uc.resolver.Resolve(ctx, rp)
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvableCharge) {
			report, ferr := uc.applyFailure(ctx, rp, nil, adapter.ChargeResult{
				Status:  adapter.ChargeFailure,
				Code:    ResultUnresolvable,
				Message: err.Error(),
			})
			recorded = ferr == nil
			cause = ferr
			return report, ferr
		}
		cause = err
		return nil, err
	}

	gw, err := uc.gateways.Recurrent(rp.Gateway)
	if err != nil {
		report, ferr := uc.applyFailure(ctx, rp, nil, adapter.ChargeResult{
			Status:  adapter.ChargeFailure,
			Code:    ResultCapabilityUnsupported,
			Message: err.Error(),
		})
		recorded = ferr == nil
		cause = ferr
		return report, ferr
	}

	payment, err := uc.chargePayment(ctx, rp, quote)
	if err != nil {
		cause = err
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ChargeTimeout)
	start := time.Now()
	res, callErr := gw.Charge(callCtx, payment, rp.Token)
	cancel()
	latency := time.Since(start)
	if callErr != nil {
		res = adapter.ChargeResult{Status: adapter.ChargeDeferred, Code: ResultGatewayError, Message: callErr.Error()}
	}
	log = log.With().Str("payment_id", payment.ID).Str("result_code", res.Code).Logger()

	// The gateway answered; its answer is recorded even if ctx is gone.
	finCtx := context.WithoutCancel(ctx)
	var report *ChargeReport
	switch res.Status {
	case adapter.ChargeOK:
		report, err = uc.applySuccess(finCtx, rp, payment, quote.SubscriptionType, res)
		if err != nil {
			log.Error().Err(err).Msg("gateway charged but the result could not be stored")
			uc.alert(finCtx, adapter.AlertCritical, "charge succeeded but was not recorded", rp, payment, res)
		}
	case adapter.ChargeFailure:
		report, err = uc.applyFailure(finCtx, rp, payment, res)
	default:
		report, err = uc.applyUnknown(finCtx, rp, payment, res)
	}
	metrics.ObserveChargeLatency(rp.Gateway, string(res.Status), latency)
	if err != nil {
		cause = err
		return nil, err
	}
	recorded = true
	log.Info().Str("outcome", string(report.Outcome)).Dur("latency", latency).Msg("charge attempt finished")
	return report, nil
}

// checkParent holds a pending link back until its authorized parent payment
// is captured and closes the chain once the parent can no longer be.
func (uc *ChargeUseCase) checkParent(ctx context.Context, rp *model.RecurrentPayment) error {
	p, err := uc.payments.FindByID(ctx, nil, rp.ParentPaymentID)
	if err != nil {
		return fmt.Errorf("load parent payment: %w", err)
	}
	switch p.Status {
	case model.PaymentStatusPaid:
		return nil
	case model.PaymentStatusAuthorized, model.PaymentStatusForm:
		return fmt.Errorf("%w: parent payment %s is %s", domain.ErrNotChargeable, p.ID, p.Status)
	}
	note := "parent payment " + string(p.Status)
	won, err := followParentTx(ctx, uc.tm, uc.recurrents, rp, model.RecurrentStateSystemStop, note)
	if err != nil {
		return err
	}
	if won {
		metrics.IncRecurrentTransition(string(model.RecurrentStateSystemStop))
		uc.log.Warn().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("payment_id", p.ID).
			Str("status", string(p.Status)).Msg("pending chain stopped; parent payment never captured")
	}
	return fmt.Errorf("%w: parent payment %s is %s", domain.ErrNotChargeable, p.ID, p.Status)
}

// chargePayment returns the form payment of this link, reusing the one left by
// an earlier unknown attempt so the gateway sees the same idempotency key.
func (uc *ChargeUseCase) chargePayment(ctx context.Context, rp *model.RecurrentPayment, q *ChargeQuote) (*model.Payment, error) {
	if rp.PaymentID != nil {
		prev, err := uc.payments.FindByID(ctx, nil, *rp.PaymentID)
		switch {
		case err == nil && prev.Status == model.PaymentStatusForm && prev.Amount == q.Amount():
			return prev, nil
		case err == nil && prev.Status == model.PaymentStatusForm:
			// price changed since the unknown attempt; that attempt never settled
			if _, err := uc.payments.UpdateStatusIf(ctx, nil, prev.ID, []model.PaymentStatus{model.PaymentStatusForm}, model.PaymentStatusTimeout, nil); err != nil {
				return nil, fmt.Errorf("expire previous charge payment: %w", err)
			}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load previous charge payment: %w", err)
		}
	}

	now := time.Now()
	p := &model.Payment{
		ID:                 uuid.NewString(),
		VariableSymbol:     ulid.Make().String(),
		UserID:             rp.UserID,
		Amount:             q.Amount(),
		AdditionalAmount:   q.AdditionalAmount,
		AdditionalType:     q.AdditionalType,
		Currency:           q.Currency,
		Status:             model.PaymentStatusForm,
		Gateway:            rp.Gateway,
		SubscriptionTypeID: q.SubscriptionType.ID,
		RecurrentCharge:    true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		ok, err := uc.recurrents.Transition(ctx, tx, rp.ID,
			[]model.RecurrentState{model.RecurrentStateCharging}, model.RecurrentStateCharging,
			model.StateUpdate{PaymentID: &p.ID})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotChargeable
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create charge payment: %w", err)
	}
	rp.PaymentID = &p.ID
	return p, nil
}

func (uc *ChargeUseCase) applySuccess(ctx context.Context, rp *model.RecurrentPayment, p *model.Payment, st *model.SubscriptionType, res adapter.ChargeResult) (*ChargeReport, error) {
	report := &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeCharged, PaymentID: p.ID, ResultCode: res.Code, ResultMessage: res.Message}
	paidAt := time.Now()
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := uc.payments.UpdateStatusIf(ctx, tx, p.ID,
			[]model.PaymentStatus{model.PaymentStatusForm}, model.PaymentStatusPaid, &paidAt); err != nil {
			return err
		}
		if err := uc.payments.SetGatewayResult(ctx, tx, p.ID, res.ExternalID, res.Code, res.Message); err != nil {
			return err
		}
		won, err := uc.recurrents.Transition(ctx, tx, rp.ID,
			[]model.RecurrentState{model.RecurrentStateCharging}, model.RecurrentStateCharged,
			model.StateUpdate{PaymentID: &p.ID, ResultCode: &res.Code, ResultMessage: &res.Message})
		if err != nil {
			return err
		}
		if !won {
			// stopped while the gateway call was in flight: keep the money, schedule nothing
			return nil
		}
		if st == nil || !st.Renewable {
			return nil
		}
		next := rp.Successor(p.ID, st.ID, uc.cfg.Policy.MaxRetries(), uc.cfg.Policy.NextChargeAt(paidAt, st))
		if err := uc.recurrents.Save(ctx, tx, next); err != nil {
			return err
		}
		report.Successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPayment(string(model.PaymentStatusPaid))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	metrics.IncRecurrentCharge(rp.Gateway, string(OutcomeCharged))
	metrics.IncRecurrentTransition(string(model.RecurrentStateCharged))
	return report, nil
}

// applyFailure consumes one retry. p is nil when no gateway call was made.
func (uc *ChargeUseCase) applyFailure(ctx context.Context, rp *model.RecurrentPayment, p *model.Payment, res adapter.ChargeResult) (*ChargeReport, error) {
	left := rp.Retries - 1
	if left < 0 {
		left = 0
	}
	to := model.RecurrentStateChargeFailed
	outcome := OutcomeFailed
	if left == 0 {
		to = model.RecurrentStateSystemStop
		outcome = OutcomeStopped
	}
	report := &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: outcome, ResultCode: res.Code, ResultMessage: res.Message}
	parentID := rp.ParentPaymentID
	if p != nil {
		report.PaymentID = p.ID
		parentID = p.ID
	}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		upd := model.StateUpdate{Retries: &left, ResultCode: &res.Code, ResultMessage: &res.Message}
		if p != nil {
			if _, err := uc.payments.UpdateStatusIf(ctx, tx, p.ID,
				[]model.PaymentStatus{model.PaymentStatusForm}, model.PaymentStatusFail, nil); err != nil {
				return err
			}
			if err := uc.payments.SetGatewayResult(ctx, tx, p.ID, res.ExternalID, res.Code, res.Message); err != nil {
				return err
			}
			upd.PaymentID = &p.ID
		}
		won, err := uc.recurrents.Transition(ctx, tx, rp.ID, []model.RecurrentState{model.RecurrentStateCharging}, to, upd)
		if err != nil {
			return err
		}
		if !won {
			report.Outcome = OutcomeSkipped
			return nil
		}
		if left == 0 {
			return nil
		}
		next := rp.Successor(parentID, rp.SubscriptionTypeID, left, uc.cfg.Policy.RetryAt(time.Now(), left))
		next.NextSubscriptionTypeID = rp.NextSubscriptionTypeID
		if err := uc.recurrents.Save(ctx, tx, next); err != nil {
			return err
		}
		report.Successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p != nil {
		metrics.IncPayment(string(model.PaymentStatusFail))
	}
	metrics.IncRecurrentCharge(rp.Gateway, string(report.Outcome))
	if report.Outcome != OutcomeSkipped {
		metrics.IncRecurrentTransition(string(to))
	}
	ev := uc.log.Warn()
	if outcome == OutcomeStopped {
		ev = uc.log.Error()
		uc.alert(ctx, adapter.AlertWarning, "recurrent chain stopped after exhausting retries", rp, p, res)
	}
	ev.Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("gateway", rp.Gateway).
		Int("retries_left", left).Str("result_code", res.Code).Str("result_message", res.Message).
		Msg("charge attempt failed")
	return report, nil
}

// applyUnknown keeps the link in charging; the reconciler settles it.
func (uc *ChargeUseCase) applyUnknown(ctx context.Context, rp *model.RecurrentPayment, p *model.Payment, res adapter.ChargeResult) (*ChargeReport, error) {
	if err := uc.payments.SetGatewayResult(ctx, nil, p.ID, res.ExternalID, res.Code, res.Message); err != nil {
		return nil, err
	}
	if _, err := uc.recurrents.Transition(ctx, nil, rp.ID,
		[]model.RecurrentState{model.RecurrentStateCharging}, model.RecurrentStateCharging,
		model.StateUpdate{ResultCode: &res.Code, ResultMessage: &res.Message}); err != nil {
		return nil, err
	}
	metrics.IncRecurrentCharge(rp.Gateway, string(OutcomeUnknown))
	uc.log.Warn().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("payment_id", p.ID).
		Str("result_code", res.Code).Str("result_message", res.Message).
		Msg("charge outcome unknown; waiting for reconciliation")
	return &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeUnknown, PaymentID: p.ID, ResultCode: res.Code, ResultMessage: res.Message}, nil
}

// Reconcile settles a link left in charging by an unknown or interrupted
// attempt. With CapChargeLookup the gateway's answer is applied; otherwise
// the link goes back to active and keeps its charge payment, so the retry
// reuses the same idempotency key. A link stopped while its charge was open
// only gets its payment settled.
func (uc *ChargeUseCase) Reconcile(ctx context.Context, id string) (*ChargeReport, error) {
	rp, err := uc.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	key := chainLockKey(rp.ChainID)
	lockToken, err := uc.locker.TryLock(ctx, key, uc.cfg.LockTTL)
	if err != nil {
		return skipped(rp), domain.ErrChargeInProgress
	}
	defer func() { _ = uc.locker.Unlock(context.WithoutCancel(ctx), key, lockToken) }()

	if rp, err = uc.recurrents.FindByID(ctx, nil, id); err != nil {
		return nil, err
	}
	if rp.State.IsTerminal() && rp.PaymentID != nil {
		return uc.settleStopped(ctx, rp)
	}
	if rp.State != model.RecurrentStateCharging {
		return skipped(rp), nil
	}
	log := uc.log.With().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("gateway", rp.Gateway).Logger()

	if rp.PaymentID == nil {
		// the attempt never reached the gateway
		return uc.revert(ctx, rp, "no charge payment created")
	}
	p, err := uc.payments.FindByID(ctx, nil, *rp.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("load charge payment: %w", err)
	}

	lookup, err := uc.gateways.ChargeLookup(rp.Gateway)
	if err != nil {
		log.Debug().Err(err).Msg("gateway cannot look up charges; reverting for an idempotent retry")
		return uc.revert(ctx, rp, "charge lookup not supported")
	}
	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ChargeTimeout)
	res, err := lookup.LookupCharge(callCtx, p)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("payment_id", p.ID).Msg("charge lookup failed; will retry reconciliation")
		return &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeUnknown, PaymentID: p.ID}, nil
	}
	finCtx := context.WithoutCancel(ctx)
	switch res.Status {
	case adapter.ChargeOK:
		st, err := uc.types.FindByID(ctx, nil, p.SubscriptionTypeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Info().Str("payment_id", p.ID).Msg("reconciled charge as paid")
		return uc.applySuccess(finCtx, rp, p, st, res)
	case adapter.ChargeFailure:
		log.Info().Str("payment_id", p.ID).Str("result_code", res.Code).Msg("reconciled charge as failed")
		return uc.applyFailure(finCtx, rp, p, res)
	case adapter.ChargeNotFound:
		return uc.revert(ctx, rp, "gateway has no record of the charge")
	}
	log.Info().Str("payment_id", p.ID).Str("result_code", res.Code).Msg("charge still pending at gateway")
	return &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeUnknown, PaymentID: p.ID, ResultCode: res.Code}, nil
}

// settleStopped settles the charge payment a stop left in form. The chain
// stays stopped whatever the gateway answers; money captured on a stopped
// chain is raised to an operator.
func (uc *ChargeUseCase) settleStopped(ctx context.Context, rp *model.RecurrentPayment) (*ChargeReport, error) {
	p, err := uc.payments.FindByID(ctx, nil, *rp.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("load charge payment: %w", err)
	}
	if p.Status != model.PaymentStatusForm {
		return skipped(rp), nil
	}
	log := uc.log.With().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).
		Str("state", string(rp.State)).Str("payment_id", p.ID).Logger()
	report := &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeUnknown, PaymentID: p.ID}

	var res adapter.ChargeResult
	lookup, err := uc.gateways.ChargeLookup(rp.Gateway)
	if err != nil {
		res = adapter.ChargeResult{Status: adapter.ChargeNotFound, Code: ResultCapabilityUnsupported, Message: err.Error()}
		uc.alert(ctx, adapter.AlertWarning, "charge on a stopped chain cannot be verified", rp, p, res)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ChargeTimeout)
		res, err = lookup.LookupCharge(callCtx, p)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("charge lookup failed; will retry reconciliation")
			return report, nil
		}
	}

	var to model.PaymentStatus
	var paidAt *time.Time
	switch res.Status {
	case adapter.ChargeOK:
		now := time.Now()
		to, paidAt, report.Outcome = model.PaymentStatusPaid, &now, OutcomeCharged
	case adapter.ChargeFailure:
		to, report.Outcome = model.PaymentStatusFail, OutcomeFailed
	case adapter.ChargeNotFound:
		to, report.Outcome = model.PaymentStatusTimeout, OutcomeSkipped
	default:
		log.Info().Str("result_code", res.Code).Msg("charge of a stopped chain still pending at gateway")
		return report, nil
	}
	report.ResultCode, report.ResultMessage = res.Code, res.Message

	finCtx := context.WithoutCancel(ctx)
	won := false
	err = uc.tm.WithTx(finCtx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := uc.payments.UpdateStatusIf(ctx, tx, p.ID, []model.PaymentStatus{model.PaymentStatusForm}, to, paidAt)
		if err != nil || !ok {
			return err
		}
		won = true
		return uc.payments.SetGatewayResult(ctx, tx, p.ID, res.ExternalID, res.Code, res.Message)
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return skipped(rp), nil
	}
	metrics.IncPayment(string(to))
	if to == model.PaymentStatusPaid {
		metrics.AddPaymentRevenue(p.Currency, p.Amount)
		uc.alert(finCtx, adapter.AlertCritical, "charge captured on a stopped chain", rp, p, res)
	}
	log.Info().Str("status", string(to)).Str("result_code", res.Code).Msg("settled the charge of a stopped chain")
	return report, nil
}

func (uc *ChargeUseCase) revert(ctx context.Context, rp *model.RecurrentPayment, reason string) (*ChargeReport, error) {
	code := ResultReconcileRetry
	ok, err := uc.recurrents.Transition(ctx, nil, rp.ID,
		[]model.RecurrentState{model.RecurrentStateCharging}, model.RecurrentStateActive,
		model.StateUpdate{ResultCode: &code, ResultMessage: &reason})
	if err != nil {
		return nil, err
	}
	if !ok {
		return skipped(rp), nil
	}
	metrics.IncRecurrentTransition(string(model.RecurrentStateActive))
	uc.log.Info().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("reason", reason).Msg("charging link returned to active")
	return &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeSkipped, ResultCode: code, ResultMessage: reason}, nil
}

// Sweep reconciles stale charging links and stopped links whose charge never
// settled, then charges every due link through run.
// Links overdue by more than the fast-charge threshold go first.
func (uc *ChargeUseCase) Sweep(ctx context.Context, run RunAll) (SweepStats, error) {
	var stats SweepStats
	now := time.Now()

	cutoff := now.Add(-uc.cfg.StaleAfter)
	stale, err := uc.recurrents.ListStaleCharging(ctx, nil, cutoff, uc.cfg.BatchSize)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return stats, fmt.Errorf("list stale charging: %w", err)
	}
	stopped, err := uc.recurrents.ListStoppedWithOpenCharge(ctx, nil, cutoff, uc.cfg.BatchSize)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return stats, fmt.Errorf("list stopped with open charge: %w", err)
	}
	for _, rp := range append(stale, stopped...) {
		if _, err := uc.Reconcile(ctx, rp.ID); err != nil && !errors.Is(err, domain.ErrChargeInProgress) {
			uc.log.Error().Err(err).Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Msg("reconciliation failed")
			continue
		}
		stats.Reconciled++
	}
	metrics.AddSweepRecords("reconciled", stats.Reconciled)

	due, err := uc.recurrents.ListDue(ctx, nil, now, uc.cfg.BatchSize)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return stats, fmt.Errorf("list due: %w", err)
	}
	due = uc.orderDue(now, due)
	stats.Due = len(due)
	for _, rp := range due {
		if uc.cfg.Policy.IsUrgent(now, rp.ChargeAt) {
			stats.Urgent++
		}
	}

	var mu sync.Mutex
	tasks := make([]func(ctx context.Context), 0, len(due))
	for _, rp := range due {
		id := rp.ID
		tasks = append(tasks, func(ctx context.Context) {
			report, err := uc.Charge(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, domain.ErrChargeInProgress) || errors.Is(err, domain.ErrNotChargeable) {
					stats.Skipped++
					return
				}
				stats.Unknown++
				uc.log.Error().Err(err).Str("recurrent_id", id).Msg("charge attempt error")
				return
			}
			switch report.Outcome {
			case OutcomeCharged:
				stats.Charged++
			case OutcomeFailed:
				stats.Failed++
			case OutcomeStopped:
				stats.Stopped++
			case OutcomeUnknown:
				stats.Unknown++
			default:
				stats.Skipped++
			}
		})
	}
	run(ctx, tasks)

	stats.FollowUp = len(due) >= uc.cfg.BatchSize && stats.Urgent > 0
	metrics.AddSweepRecords("due", stats.Due)
	metrics.AddSweepRecords("urgent", stats.Urgent)
	return stats, nil
}

// orderDue keeps one link per chain and puts urgent links first, oldest first within each group.
func (uc *ChargeUseCase) orderDue(now time.Time, due []*model.RecurrentPayment) []*model.RecurrentPayment {
	seen := make(map[string]bool, len(due))
	out := make([]*model.RecurrentPayment, 0, len(due))
	for _, rp := range due {
		if seen[rp.ChainID] {
			continue
		}
		seen[rp.ChainID] = true
		out = append(out, rp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := uc.cfg.Policy.IsUrgent(now, out[i].ChargeAt), uc.cfg.Policy.IsUrgent(now, out[j].ChargeAt)
		if ui != uj {
			return ui
		}
		return out[i].ChargeAt.Before(out[j].ChargeAt)
	})
	return out
}

func (uc *ChargeUseCase) alert(ctx context.Context, level adapter.AlertLevel, title string, rp *model.RecurrentPayment, p *model.Payment, res adapter.ChargeResult) {
	if uc.notifier == nil {
		return
	}
	fields := map[string]string{
		"recurrent_id": rp.ID,
		"chain_id":     rp.ChainID,
		"user_id":      rp.UserID,
		"gateway":      rp.Gateway,
		"result_code":  res.Code,
	}
	if p != nil {
		fields["payment_id"] = p.ID
		fields["variable_symbol"] = p.VariableSymbol
	}
	if err := uc.notifier.Notify(ctx, adapter.Alert{Level: level, Title: title, Fields: fields}); err != nil {
		uc.log.Error().Err(err).Str("recurrent_id", rp.ID).Msg("alert delivery failed")
	}
}

func skipped(rp *model.RecurrentPayment) *ChargeReport {
	return &ChargeReport{RecurrentID: rp.ID, ChainID: rp.ChainID, Outcome: OutcomeSkipped}
}
