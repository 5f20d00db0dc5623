package adapter

import (
	"context"
	"strings"
	"time"

	"recurrent-billing/internal/domain/model"
)

// Capability is one optional behavior a gateway driver may declare.
type Capability uint16

const (
	CapRecurrent       Capability = 1 << iota // tokenized charge
	CapRefund                                 // refund of a captured payment
	CapCancelToken                            // invalidate a stored token at the gateway
	CapAuthorization                          // explicit redirect after async confirmation
	CapTokenValidation                        // check a stored token is still usable
	CapTokenExpiry                            // batch token expiry query
	CapChargeLookup                           // look up the outcome of an earlier charge
)

var capabilityNames = map[Capability]string{
	CapRecurrent:       "recurrent",
	CapRefund:          "refund",
	CapCancelToken:     "cancel_token",
	CapAuthorization:   "authorization",
	CapTokenValidation: "token_validation",
	CapTokenExpiry:     "token_expiry",
	CapChargeLookup:    "charge_lookup",
}

// AllCapabilities lists every known capability in declaration order.
var AllCapabilities = []Capability{
	CapRecurrent, CapRefund, CapCancelToken, CapAuthorization,
	CapTokenValidation, CapTokenExpiry, CapChargeLookup,
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return "unknown"
}

// CapabilitySet is the fixed set of capabilities a driver declares.
type CapabilitySet uint16

func Capabilities(cs ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range cs {
		s |= CapabilitySet(c)
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) != 0 }

func (s CapabilitySet) String() string {
	var names []string
	for _, c := range AllCapabilities {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return strings.Join(names, ",")
}

// Gateway is the contract every payment gateway driver implements.
type Gateway interface {
	Code() string
	Capabilities() CapabilitySet
	// Begin initiates the gateway round trip (e.g. returns a redirect URL).
	Begin(ctx context.Context, p *model.Payment) (BeginResult, error)
	// Complete finalizes the round trip using the parameters the gateway sent back.
	Complete(ctx context.Context, p *model.Payment, params map[string]string) (CompleteResult, error)
}

type BeginResult struct {
	RedirectURL string
	ExternalID  string
}

// Settlement is the tri-state outcome of Complete.
type Settlement int

const (
	SettlementUnsettled Settlement = iota // not yet settled / indeterminate
	SettlementPaid
	SettlementFailed
)

type CompleteResult struct {
	Settlement     Settlement
	Authorized     bool // money authorized but not captured yet
	Code           string
	Message        string
	ExternalID     string
	Token          string
	TokenExpiresAt *time.Time
}

func (r CompleteResult) HasRecurrentToken() bool { return r.Token != "" }
func (r CompleteResult) RecurrentToken() string  { return r.Token }

type ChargeStatus string

const (
	ChargeOK       ChargeStatus = "ok"
	ChargeFailure  ChargeStatus = "failure"
	ChargeDeferred ChargeStatus = "deferred" // gateway accepted, outcome not known yet
	// ChargeNotFound is only returned by LookupCharge: the gateway has no
	// record of a charge for the payment.
	ChargeNotFound ChargeStatus = "not_found"
)

// ChargeResult is the outcome of a token charge. Anything but ChargeOK is a
// non-success; Code and Message carry the gateway's result code.
type ChargeResult struct {
	Status     ChargeStatus
	Code       string
	Message    string
	ExternalID string
}

func (r ChargeResult) ResultCode() string    { return r.Code }
func (r ChargeResult) ResultMessage() string { return r.Message }

type RefundResult struct {
	OK         bool
	ExternalID string
	Code       string
	Message    string
	Amount     int64
	RefundedAt time.Time
}

// RecurrentCharger is declared with CapRecurrent.
type RecurrentCharger interface {
	Gateway
	// Charge charges token for p.Amount. p.ID must be used as the idempotency key.
	Charge(ctx context.Context, p *model.Payment, token string) (ChargeResult, error)
}

// Refunder is declared with CapRefund.
type Refunder interface {
	Gateway
	Refund(ctx context.Context, p *model.Payment, amount int64) (RefundResult, error)
}

// TokenCanceller is declared with CapCancelToken.
type TokenCanceller interface {
	Gateway
	CancelToken(ctx context.Context, token string) error
}

// Authorizer is declared with CapAuthorization.
type Authorizer interface {
	Gateway
	AuthorizationURL(ctx context.Context, p *model.Payment) (string, error)
}

// TokenValidator is declared with CapTokenValidation.
type TokenValidator interface {
	Gateway
	CheckValid(ctx context.Context, token string) (bool, error)
}

// ExpiryChecker is declared with CapTokenExpiry.
type ExpiryChecker interface {
	Gateway
	CheckExpire(ctx context.Context, tokens []string) (map[string]time.Time, error)
}

// ChargeLookup is declared with CapChargeLookup.
type ChargeLookup interface {
	Gateway
	// LookupCharge reports the gateway's view of the charge made for p.
	// ChargeDeferred means the gateway has no final answer yet.
	LookupCharge(ctx context.Context, p *model.Payment) (ChargeResult, error)
}

// GatewayRegistry resolves drivers by code and hands out capability views.
type GatewayRegistry interface {
	Get(code string) (Gateway, error)
	Has(code string, c Capability) bool
	Recurrent(code string) (RecurrentCharger, error)
	Refunder(code string) (Refunder, error)
	TokenCanceller(code string) (TokenCanceller, error)
	TokenValidator(code string) (TokenValidator, error)
	ExpiryChecker(code string) (ExpiryChecker, error)
	ChargeLookup(code string) (ChargeLookup, error)
	Authorizer(code string) (Authorizer, error)
	Codes() []string
}
