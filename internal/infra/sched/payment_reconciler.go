package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/infra/metrics"
)

type StaleExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// PaymentReconciler times out customer checkouts that never came back from
// the gateway. Recurrent charges are left to the charge engine.
type PaymentReconciler struct {
	ledger     StaleExpirer
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewPaymentReconciler(ledger StaleExpirer, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{ledger: ledger, interval: interval, staleAfter: staleAfter, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	n, err := w.ledger.ExpireStale(ctx, time.Now().Add(-w.staleAfter), 200)
	if err != nil {
		metrics.IncJobRun("payment_timeout", "failed")
		w.log.Error().Err(err).Msg("expire stale payments failed")
		return
	}
	metrics.IncJobRun("payment_timeout", "ok")
	if n > 0 {
		w.log.Info().Int("count", n).Msg("stale payments timed out")
	}
}
