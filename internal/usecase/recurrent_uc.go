package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/metrics"
)

// Compile-time check
var _ RecurrentUseCase = (*recurrentUC)(nil)

// RecurrentUseCase covers the chain lifecycle outside of charging: creation
// from a completed payment, the three stop paths, reactivation and queries.
type RecurrentUseCase interface {
	// CreateFromPayment starts a chain from a paid (or authorized) payment.
	// Re-delivery for the same payment returns the existing record.
	CreateFromPayment(ctx context.Context, paymentID, token string, expiresAt *time.Time) (*model.RecurrentPayment, error)
	StopByAdmin(ctx context.Context, id, adminID, note string) (*model.RecurrentPayment, error)
	StopByUser(ctx context.Context, userID, id string) (*model.RecurrentPayment, error)
	// EraseUser stops every open chain of the user and cancels the user's tokens.
	EraseUser(ctx context.Context, userID, actorID string) (*ErasureResult, error)
	// ParentSettled follows the capture or failure of an authorized parent
	// payment: its pending chain becomes active or is stopped for good.
	ParentSettled(ctx context.Context, paymentID string, status model.PaymentStatus) (*model.RecurrentPayment, error)
	// Reactivate appends a new link to a chain stopped by the system.
	Reactivate(ctx context.Context, id, adminID string) (*model.RecurrentPayment, error)

	Get(ctx context.Context, id string) (*model.RecurrentPayment, error)
	ListByUser(ctx context.Context, userID string) ([]*model.RecurrentPayment, error)
	Describe(ctx context.Context, id string) (*RecurrentView, error)
}

type ErasureResult struct {
	Stopped []*model.RecurrentPayment
	Tokens  TokenCancelReport
}

// RecurrentView is the admin view of one record.
type RecurrentView struct {
	Record        *model.RecurrentPayment
	CanStop       bool
	CanReactivate bool
	NextCharge    *ChargeQuote // nil unless the record is open and resolvable
	QuoteError    string
	History       []*model.RecurrentAudit
}

type recurrentUC struct {
	recurrents repository.RecurrentPaymentRepository
	payments   repository.PaymentRepository
	types      repository.SubscriptionTypeRepository
	resolver   *ChargeResolver
	gateways   adapter.GatewayRegistry
	tokens     *TokenUseCase
	tm         repository.TransactionManager
	policy     ChargePolicy
	timeout    time.Duration
	log        *zerolog.Logger
}

func NewRecurrentUseCase(
	recurrents repository.RecurrentPaymentRepository,
	payments repository.PaymentRepository,
	types repository.SubscriptionTypeRepository,
	gateways adapter.GatewayRegistry,
	tokens *TokenUseCase,
	tm repository.TransactionManager,
	policy ChargePolicy,
	timeout time.Duration,
	logger *zerolog.Logger,
) *recurrentUC {
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := logger.With().Str("component", "RecurrentUseCase").Logger()
	return &recurrentUC{
		recurrents: recurrents,
		payments:   payments,
		types:      types,
		resolver:   NewChargeResolver(types, payments),
		gateways:   gateways,
		tokens:     tokens,
		tm:         tm,
		policy:     policy,
		timeout:    timeout,
		log:        &l,
	}
}

func (u *recurrentUC) CreateFromPayment(ctx context.Context, paymentID, token string, expiresAt *time.Time) (*model.RecurrentPayment, error) {
	if paymentID == "" || token == "" {
		return nil, domain.ErrInvalidArgument
	}
	if existing, err := u.recurrents.FindByParentPayment(ctx, nil, paymentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	var state model.RecurrentState
	base := p.CreatedAt
	switch p.Status {
	case model.PaymentStatusPaid:
		state = model.RecurrentStateActive
		if p.PaidAt != nil {
			base = *p.PaidAt
		}
	case model.PaymentStatusAuthorized:
		state = model.RecurrentStatePending
	default:
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentNotPaid, p.ID, p.Status)
	}
	if !u.gateways.Has(p.Gateway, adapter.CapRecurrent) {
		return nil, &domain.CapabilityError{Gateway: p.Gateway, Capability: adapter.CapRecurrent.String()}
	}
	st, err := u.types.FindByID(ctx, nil, p.SubscriptionTypeID)
	if err != nil {
		return nil, err
	}
	if !st.Renewable {
		return nil, fmt.Errorf("%w: subscription type %s does not renew", domain.ErrInvalidArgument, st.Code)
	}

	rp, err := model.NewRecurrentPayment(p, token, expiresAt, u.policy.MaxRetries(), u.policy.NextChargeAt(base, st), state)
	if err != nil {
		return nil, err
	}
	if err := u.recurrents.Save(ctx, nil, rp); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return u.recurrents.FindByParentPayment(ctx, nil, paymentID)
		}
		return nil, err
	}
	metrics.IncRecurrentTransition(string(rp.State))

	other := ""
	if open, err := u.recurrents.ListOpenByUser(ctx, nil, rp.UserID); err == nil {
		for _, o := range open {
			if o.ChainID != rp.ChainID && o.SubscriptionTypeID == rp.SubscriptionTypeID {
				other = o.ChainID
				break
			}
		}
	}
	ev := u.log.Info()
	if other != "" {
		// surfaced by the duplicate detector
		ev = u.log.Warn().Str("other_chain_id", other)
	}
	ev.Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("payment_id", p.ID).
		Str("gateway", rp.Gateway).Time("charge_at", rp.ChargeAt).Msg("recurrent chain created")
	return rp, nil
}

func (u *recurrentUC) StopByAdmin(ctx context.Context, id, adminID, note string) (*model.RecurrentPayment, error) {
	rp, err := u.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return u.stop(ctx, rp, model.RecurrentStateAdminStop, model.AuditActionStop, model.ActorAdmin, adminID, note)
}

func (u *recurrentUC) StopByUser(ctx context.Context, userID, id string) (*model.RecurrentPayment, error) {
	rp, err := u.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if rp.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return u.stop(ctx, rp, model.RecurrentStateUserStop, model.AuditActionStop, model.ActorUser, userID, "stopped by user")
}

// stop ends the chain of rp. A historical link stands for its chain: the
// chain's open head is stopped instead.
func (u *recurrentUC) stop(ctx context.Context, rp *model.RecurrentPayment, to model.RecurrentState, action model.AuditAction, actor model.ActorType, actorID, note string) (*model.RecurrentPayment, error) {
	if !rp.CanStop() {
		if rp.State.IsTerminal() {
			return nil, fmt.Errorf("%w: record is %s", domain.ErrNotStoppable, rp.State)
		}
		head, err := u.recurrents.FindOpenByChain(ctx, nil, rp.ChainID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: chain %s has no open record", domain.ErrNotStoppable, rp.ChainID)
		}
		if err != nil {
			return nil, err
		}
		rp = head
	}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.recurrents.Transition(ctx, tx, rp.ID, model.OpenStates, to, model.StateUpdate{Note: &note})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: record %s left the open states", domain.ErrNotStoppable, rp.ID)
		}
		return u.recurrents.SaveAudit(ctx, tx, model.NewRecurrentAudit(rp, action, actor, actorID, note))
	})
	if err != nil {
		return nil, err
	}
	rp.State = to
	rp.Note = note
	metrics.IncRecurrentTransition(string(to))
	u.log.Info().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).
		Str("state", string(to)).Str("actor", string(actor)).Str("actor_id", actorID).
		Msg("recurrent chain stopped")
	return rp, nil
}

func (u *recurrentUC) EraseUser(ctx context.Context, userID, actorID string) (*ErasureResult, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	const note = "personal data erasure"
	res := &ErasureResult{}
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		stopped, err := u.recurrents.StopAllOpenByUser(ctx, tx, userID, model.RecurrentStateUserStop, note)
		if err != nil {
			return err
		}
		all, err := u.recurrents.ListByUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// every chain of the user is marked, closed ones included, so none
		// of them can be reactivated later
		marked := make(map[string]bool, len(all))
		for _, rp := range append(stopped, all...) {
			if marked[rp.ChainID] {
				continue
			}
			marked[rp.ChainID] = true
			if err := u.recurrents.SaveAudit(ctx, tx, model.NewRecurrentAudit(rp, model.AuditActionErase, model.ActorAdmin, actorID, note)); err != nil {
				return err
			}
		}
		res.Stopped = stopped
		return nil
	})
	if err != nil {
		return nil, err
	}
	for range res.Stopped {
		metrics.IncRecurrentTransition(string(model.RecurrentStateUserStop))
	}

	if u.tokens != nil {
		report, err := u.tokens.CancelUserTokens(ctx, userID)
		if err != nil {
			u.log.Error().Err(err).Str("user_id", userID).Msg("token cancellation after erasure failed")
		}
		res.Tokens = report
	}
	u.log.Info().Str("user_id", userID).Int("stopped", len(res.Stopped)).
		Int("tokens_cancelled", res.Tokens.Cancelled).Int("tokens_failed", res.Tokens.Failed).
		Msg("user erased from recurrent billing")
	return res, nil
}

func (u *recurrentUC) Reactivate(ctx context.Context, id, adminID string) (*model.RecurrentPayment, error) {
	rp, err := u.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := u.reactivable(ctx, rp); err != nil {
		return nil, err
	}

	validator, err := u.gateways.TokenValidator(rp.Gateway)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	valid, err := validator.CheckValid(callCtx, rp.Token)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if !valid {
		return nil, domain.ErrTokenInvalid
	}

	next := rp.Successor(rp.ParentPaymentID, rp.SubscriptionTypeID, u.policy.MaxRetries(), time.Now())
	switch u.policy.Reactivation {
	case ReactivationReresolve:
		next.CustomAmount = nil
	default:
		next.NextSubscriptionTypeID = rp.NextSubscriptionTypeID
	}
	note := "reactivated from " + rp.ID
	next.Note = note

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.recurrents.Save(ctx, tx, next); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("%w: chain %s already has an open record", domain.ErrNotReactivable, rp.ChainID)
			}
			return err
		}
		return u.recurrents.SaveAudit(ctx, tx, model.NewRecurrentAudit(next, model.AuditActionReactivate, model.ActorAdmin, adminID, note))
	})
	if err != nil {
		return nil, err
	}
	metrics.IncRecurrentTransition(string(next.State))
	u.log.Info().Str("recurrent_id", next.ID).Str("chain_id", next.ChainID).Str("stopped_id", rp.ID).
		Str("admin_id", adminID).Str("policy", string(u.policy.Reactivation)).Msg("recurrent chain reactivated")
	return next, nil
}

// reactivable allows only the latest link of a chain, stopped by the system,
// in a chain that was neither erased nor closed by a failed parent payment.
func (u *recurrentUC) reactivable(ctx context.Context, rp *model.RecurrentPayment) error {
	if !rp.CanReactivate() {
		return fmt.Errorf("%w: record is %s", domain.ErrNotReactivable, rp.State)
	}
	latest, err := u.recurrents.FindLatestByChain(ctx, nil, rp.ChainID)
	if err != nil {
		return err
	}
	if latest.ID != rp.ID {
		if latest.State.IsOpen() {
			return fmt.Errorf("%w: chain %s already has an open record", domain.ErrNotReactivable, rp.ChainID)
		}
		return fmt.Errorf("%w: %s is not the latest link of chain %s", domain.ErrNotReactivable, rp.ID, rp.ChainID)
	}
	hist, err := u.recurrents.ListAudit(ctx, nil, rp.ChainID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	for _, a := range hist {
		if a.Action.BlocksReactivation() {
			return fmt.Errorf("%w: chain %s was closed by %s", domain.ErrNotReactivable, rp.ChainID, a.Action)
		}
	}
	return nil
}

func (u *recurrentUC) ParentSettled(ctx context.Context, paymentID string, status model.PaymentStatus) (*model.RecurrentPayment, error) {
	rp, err := u.recurrents.FindByParentPayment(ctx, nil, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rp.State != model.RecurrentStatePending {
		return rp, nil
	}

	var to model.RecurrentState
	switch status {
	case model.PaymentStatusPaid:
		to = model.RecurrentStateActive
	case model.PaymentStatusFail, model.PaymentStatusTimeout:
		to = model.RecurrentStateSystemStop
	default:
		return rp, nil
	}
	note := "parent payment " + string(status)
	won, err := followParentTx(ctx, u.tm, u.recurrents, rp, to, note)
	if err != nil {
		return nil, err
	}
	if !won {
		return u.recurrents.FindByID(ctx, nil, rp.ID)
	}
	rp.State = to
	rp.Note = note
	metrics.IncRecurrentTransition(string(to))
	u.log.Info().Str("recurrent_id", rp.ID).Str("chain_id", rp.ChainID).Str("payment_id", paymentID).
		Str("state", string(to)).Msg("pending chain followed its parent payment")
	return rp, nil
}

// followParentTx moves a pending link to to. A system stop is audited as
// parent_failed, which keeps the chain from being reactivated.
func followParentTx(ctx context.Context, tm repository.TransactionManager, recurrents repository.RecurrentPaymentRepository, rp *model.RecurrentPayment, to model.RecurrentState, note string) (bool, error) {
	won := false
	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := recurrents.Transition(ctx, tx, rp.ID, []model.RecurrentState{model.RecurrentStatePending}, to, model.StateUpdate{Note: &note})
		if err != nil || !ok {
			return err
		}
		won = true
		if to != model.RecurrentStateSystemStop {
			return nil
		}
		return recurrents.SaveAudit(ctx, tx, model.NewRecurrentAudit(rp, model.AuditActionParentFailed, model.ActorSystem, "", note))
	})
	return won, err
}

func (u *recurrentUC) Get(ctx context.Context, id string) (*model.RecurrentPayment, error) {
	return u.recurrents.FindByID(ctx, nil, id)
}

func (u *recurrentUC) ListByUser(ctx context.Context, userID string) ([]*model.RecurrentPayment, error) {
	recs, err := u.recurrents.ListByUser(ctx, nil, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return []*model.RecurrentPayment{}, nil
	}
	return recs, err
}

// Describe never calls a gateway; CanReactivate only says a reactivation may be
// attempted, the token check happens in Reactivate.
func (u *recurrentUC) Describe(ctx context.Context, id string) (*RecurrentView, error) {
	rp, err := u.recurrents.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	v := &RecurrentView{Record: rp, CanStop: rp.CanStop()}

	if !v.CanStop && !rp.State.IsTerminal() {
		// historical link: stoppable through its chain head
		if _, err := u.recurrents.FindOpenByChain(ctx, nil, rp.ChainID); err == nil {
			v.CanStop = true
		}
	}
	if rp.CanReactivate() && u.gateways.Has(rp.Gateway, adapter.CapTokenValidation) {
		v.CanReactivate = u.reactivable(ctx, rp) == nil
	}
	if rp.State.IsOpen() {
		q, err := u.resolver.Resolve(ctx, rp)
		if err != nil {
			v.QuoteError = err.Error()
		} else {
			v.NextCharge = q
		}
	}
	hist, err := u.recurrents.ListAudit(ctx, nil, rp.ChainID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	v.History = hist
	return v, nil
}
