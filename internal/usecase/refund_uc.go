package usecase

import (
	"context"
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

type RefundOutcome struct {
	Payment    *model.Payment
	Amount     int64
	Full       bool
	ExternalID string
}

// RefundUseCase applies gateway refunds to paid payments. It never touches
// recurrent chains: stopping renewals is a separate admin action.
type RefundUseCase struct {
	payments repository.PaymentRepository
	gateways adapter.GatewayRegistry
	tm       repository.TransactionManager
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewRefundUseCase(payments repository.PaymentRepository, gateways adapter.GatewayRegistry, tm repository.TransactionManager, timeout time.Duration, logger *zerolog.Logger) *RefundUseCase {
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := logger.With().Str("component", "RefundUseCase").Logger()
	return &RefundUseCase{payments: payments, gateways: gateways, tm: tm, timeout: timeout, log: &l}
}

// Refund refunds amount of a paid payment. amount 0 refunds what is left.
// On any error the payment is left as it was.
func (uc *RefundUseCase) Refund(ctx context.Context, paymentID string, amount int64, actorID string) (*RefundOutcome, error) {
	p, err := uc.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentNotRefundable, p.ID, p.Status)
	}
	left := p.RefundableAmount()
	if amount == 0 {
		amount = left
	}
	if amount < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if amount > left || left == 0 {
		return nil, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrRefundExceedsAmount, amount, left)
	}

	refunder, err := uc.gateways.Refunder(p.Gateway)
	if err != nil {
		metrics.IncRefund(p.Gateway, "unsupported")
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	res, err := refunder.Refund(callCtx, p, amount)
	cancel()
	if err != nil || !res.OK {
		metrics.IncRefund(p.Gateway, "failed")
		ev := uc.log.Error().Str("payment_id", p.ID).Str("gateway", p.Gateway).Int64("amount", amount).
			Str("result_code", res.Code).Str("result_message", res.Message)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("gateway refund failed")
		if err == nil {
			err = fmt.Errorf("%s: %s", res.Code, res.Message)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}

	full := amount == left
	status := model.PaymentStatusPaid
	if full {
		status = model.PaymentStatusRefund
	}
	err = uc.tm.WithTx(context.WithoutCancel(ctx), pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return uc.payments.AddRefund(ctx, tx, p.ID, amount, status)
	})
	if err != nil {
		uc.log.Error().Err(err).Str("payment_id", p.ID).Str("refund_id", res.ExternalID).Int64("amount", amount).
			Msg("gateway refunded but the refund could not be stored")
		return nil, err
	}
	p.RefundedAmount += amount
	p.Status = status

	metrics.IncRefund(p.Gateway, "ok")
	metrics.AddRefundedAmount(p.Currency, amount)
	if full {
		metrics.IncPayment(string(model.PaymentStatusRefund))
	}
	uc.log.Info().Str("payment_id", p.ID).Str("gateway", p.Gateway).Int64("amount", amount).
		Bool("full", full).Str("actor_id", actorID).Str("refund_id", res.ExternalID).Msg("payment refunded")
	return &RefundOutcome{Payment: p, Amount: amount, Full: full, ExternalID: res.ExternalID}, nil
}
