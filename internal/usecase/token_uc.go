package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/infra/metrics"
)

// TokenCancelReport counts the distinct tokens handled by CancelTokens.
type TokenCancelReport struct {
	Cancelled   int
	Unsupported int
	Failed      int
}

// TokenUseCase maintains stored gateway tokens: expiry refresh and cancellation.
type TokenUseCase struct {
	recurrents repository.RecurrentPaymentRepository
	gateways   adapter.GatewayRegistry
	batchSize  int
	timeout    time.Duration
	log        *zerolog.Logger
}

func NewTokenUseCase(recurrents repository.RecurrentPaymentRepository, gateways adapter.GatewayRegistry, batchSize int, timeout time.Duration, logger *zerolog.Logger) *TokenUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := logger.With().Str("component", "TokenUseCase").Logger()
	return &TokenUseCase{recurrents: recurrents, gateways: gateways, batchSize: batchSize, timeout: timeout, log: &l}
}

// RefreshExpiry asks every gateway declaring CapTokenExpiry for the expiry of
// the tokens held by open records and stores changed values. It returns the
// number of records updated.
func (uc *TokenUseCase) RefreshExpiry(ctx context.Context) (int, error) {
	updated := 0
	for _, code := range uc.gateways.Codes() {
		checker, err := uc.gateways.ExpiryChecker(code)
		if err != nil {
			continue
		}
		n, err := uc.refreshGateway(ctx, code, checker)
		updated += n
		if err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			uc.log.Error().Err(err).Str("gateway", code).Msg("token expiry refresh failed")
		}
	}
	return updated, nil
}

func (uc *TokenUseCase) refreshGateway(ctx context.Context, code string, checker adapter.ExpiryChecker) (int, error) {
	updated := 0
	after := ""
	for {
		recs, err := uc.recurrents.ListOpenByGateway(ctx, nil, code, after, uc.batchSize)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return updated, err
		}
		if len(recs) == 0 {
			return updated, nil
		}
		after = recs[len(recs)-1].ID

		tokens := distinctTokens(recs)
		callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
		expiries, err := checker.CheckExpire(callCtx, tokens)
		cancel()
		if err != nil {
			return updated, err
		}
		n := 0
		for _, rp := range recs {
			exp, ok := expiries[rp.Token]
			if !ok || (rp.ExpiresAt != nil && rp.ExpiresAt.Equal(exp)) {
				continue
			}
			if err := uc.recurrents.UpdateExpiresAt(ctx, nil, rp.ID, exp); err != nil {
				return updated + n, err
			}
			n++
		}
		updated += n
		metrics.AddTokenOps(code, "expiry_updated", n)
		if len(recs) < uc.batchSize {
			return updated, nil
		}
	}
}

// CancelUserTokens cancels, at the gateway, every token the user ever stored.
// Safe to call again for the same user.
func (uc *TokenUseCase) CancelUserTokens(ctx context.Context, userID string) (TokenCancelReport, error) {
	recs, err := uc.recurrents.ListByUser(ctx, nil, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return TokenCancelReport{}, err
	}
	return uc.CancelTokens(ctx, recs), nil
}

// CancelTokens cancels the distinct (gateway, token) pairs of recs. Gateways
// without CapCancelToken are counted as unsupported; failures are logged.
func (uc *TokenUseCase) CancelTokens(ctx context.Context, recs []*model.RecurrentPayment) TokenCancelReport {
	var report TokenCancelReport
	type key struct{ gateway, token string }
	seen := make(map[key]bool, len(recs))
	for _, rp := range recs {
		k := key{rp.Gateway, rp.Token}
		if rp.Token == "" || seen[k] {
			continue
		}
		seen[k] = true

		canceller, err := uc.gateways.TokenCanceller(rp.Gateway)
		if err != nil {
			report.Unsupported++
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
		err = canceller.CancelToken(callCtx, rp.Token)
		cancel()
		if err != nil {
			report.Failed++
			metrics.AddTokenOps(rp.Gateway, "cancel_failed", 1)
			uc.log.Error().Err(err).Str("gateway", rp.Gateway).Str("chain_id", rp.ChainID).
				Str("token", logging.Redact(rp.Token)).Msg("token cancellation failed")
			continue
		}
		report.Cancelled++
		metrics.AddTokenOps(rp.Gateway, "cancelled", 1)
	}
	return report
}

func distinctTokens(recs []*model.RecurrentPayment) []string {
	seen := make(map[string]bool, len(recs))
	out := make([]string, 0, len(recs))
	for _, rp := range recs {
		if rp.Token == "" || seen[rp.Token] {
			continue
		}
		seen[rp.Token] = true
		out = append(out, rp.Token)
	}
	return out
}
