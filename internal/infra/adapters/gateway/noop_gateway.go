package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.RecurrentCharger = (*NoopGateway)(nil)
	_ adapter.Refunder         = (*NoopGateway)(nil)
	_ adapter.TokenCanceller   = (*NoopGateway)(nil)
	_ adapter.TokenValidator   = (*NoopGateway)(nil)
	_ adapter.ExpiryChecker    = (*NoopGateway)(nil)
	_ adapter.ChargeLookup     = (*NoopGateway)(nil)
)

// NoopGateway is an in-memory gateway for development and tests. Charges are
// idempotent by payment id. Tokens starting with "decline" are declined.
type NoopGateway struct {
	mu        sync.Mutex
	code      string
	seq       int64
	sessions  map[string]string // payment id -> session
	charges   map[string]adapter.ChargeResult
	cancelled map[string]bool
	refunded  map[string]int64
	tokenTTL  time.Duration
	issued    map[string]time.Time
}

func NewNoopGateway(code string) *NoopGateway {
	if code == "" {
		code = "noop"
	}
	return &NoopGateway{
		code:      code,
		sessions:  make(map[string]string),
		charges:   make(map[string]adapter.ChargeResult),
		cancelled: make(map[string]bool),
		refunded:  make(map[string]int64),
		tokenTTL:  365 * 24 * time.Hour,
		issued:    make(map[string]time.Time),
	}
}

func (g *NoopGateway) Code() string { return g.code }

func (g *NoopGateway) Capabilities() adapter.CapabilitySet {
	return adapter.Capabilities(
		adapter.CapRecurrent, adapter.CapRefund, adapter.CapCancelToken,
		adapter.CapTokenValidation, adapter.CapTokenExpiry, adapter.CapChargeLookup,
	)
}

func (g *NoopGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *NoopGateway) Begin(ctx context.Context, p *model.Payment) (adapter.BeginResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sid := g.next("sess")
	g.sessions[p.ID] = sid
	return adapter.BeginResult{RedirectURL: "https://example.test/pay/" + sid, ExternalID: sid}, nil
}

// Complete reads params["status"]: "failed", "pending" or anything else for paid.
// params["recurrent"] = "false" suppresses the token.
func (g *NoopGateway) Complete(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch params["status"] {
	case "failed":
		return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: "declined", Message: "payment declined"}, nil
	case "pending":
		return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: "pending"}, nil
	}
	res := adapter.CompleteResult{Settlement: adapter.SettlementPaid, Code: "ok", ExternalID: g.sessions[p.ID]}
	if params["recurrent"] != "false" {
		tok := g.next("tok")
		exp := time.Now().Add(g.tokenTTL)
		g.issued[tok] = exp
		res.Token = tok
		res.TokenExpiresAt = &exp
	}
	return res, nil
}

func (g *NoopGateway) Charge(ctx context.Context, p *model.Payment, token string) (adapter.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return adapter.ChargeResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.charges[p.ID]; ok {
		return res, nil
	}
	var res adapter.ChargeResult
	switch {
	case g.cancelled[token]:
		res = adapter.ChargeResult{Status: adapter.ChargeFailure, Code: "token_cancelled", Message: "token was cancelled"}
	case strings.HasPrefix(token, "decline"):
		res = adapter.ChargeResult{Status: adapter.ChargeFailure, Code: "card_declined", Message: "card declined"}
	default:
		res = adapter.ChargeResult{Status: adapter.ChargeOK, Code: "ok", ExternalID: g.next("ch")}
	}
	g.charges[p.ID] = res
	return res, nil
}

func (g *NoopGateway) LookupCharge(ctx context.Context, p *model.Payment) (adapter.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.charges[p.ID]; ok {
		return res, nil
	}
	return adapter.ChargeResult{Status: adapter.ChargeNotFound}, nil
}

// SuccessfulCharges counts the distinct payments charged successfully.
func (g *NoopGateway) SuccessfulCharges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.charges {
		if r.Status == adapter.ChargeOK {
			n++
		}
	}
	return n
}

func (g *NoopGateway) Refund(ctx context.Context, p *model.Payment, amount int64) (adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refunded[p.ID]+amount > p.Amount {
		return adapter.RefundResult{OK: false, Code: "amount_too_large", Message: "refund exceeds captured amount"}, nil
	}
	g.refunded[p.ID] += amount
	return adapter.RefundResult{OK: true, ExternalID: g.next("re"), Amount: amount, RefundedAt: time.Now()}, nil
}

func (g *NoopGateway) CancelToken(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[token] = true
	return nil
}

func (g *NoopGateway) CheckValid(ctx context.Context, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled[token] || strings.HasPrefix(token, "decline") {
		return false, nil
	}
	if exp, ok := g.issued[token]; ok && time.Now().After(exp) {
		return false, nil
	}
	return true, nil
}

func (g *NoopGateway) CheckExpire(ctx context.Context, tokens []string) (map[string]time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time, len(tokens))
	for _, t := range tokens {
		if exp, ok := g.issued[t]; ok {
			out[t] = exp
		}
	}
	return out, nil
}
