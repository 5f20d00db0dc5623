package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/infra/metrics"
)

type ExpiryRefresher interface {
	RefreshExpiry(ctx context.Context) (int, error)
}

// TokenExpiryWorker keeps stored token expiries in sync with the gateways.
type TokenExpiryWorker struct {
	interval time.Duration
	tokens   ExpiryRefresher
	log      *zerolog.Logger
}

func NewTokenExpiryWorker(interval time.Duration, tokens ExpiryRefresher, logger *zerolog.Logger) *TokenExpiryWorker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	l := logger.With().Str("component", "TokenExpiryWorker").Logger()
	return &TokenExpiryWorker{interval: interval, tokens: tokens, log: &l}
}

func (w *TokenExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting token expiry worker")
	w.refresh(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping token expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *TokenExpiryWorker) refresh(ctx context.Context) {
	n, err := w.tokens.RefreshExpiry(ctx)
	if err != nil {
		metrics.IncJobRun("token_expiry", "failed")
		w.log.Error().Err(err).Msg("token expiry refresh failed")
		return
	}
	metrics.IncJobRun("token_expiry", "ok")
	if n > 0 {
		w.log.Info().Int("updated", n).Msg("token expiries updated")
	}
}
