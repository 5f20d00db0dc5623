package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.RecurrentCharger = (*StripeGateway)(nil)
	_ adapter.Refunder         = (*StripeGateway)(nil)
	_ adapter.TokenCanceller   = (*StripeGateway)(nil)
	_ adapter.TokenValidator   = (*StripeGateway)(nil)
	_ adapter.ExpiryChecker    = (*StripeGateway)(nil)
	_ adapter.ChargeLookup     = (*StripeGateway)(nil)
)

const stripeMetaPaymentID = "payment_id"

// StripeGateway charges saved cards off-session. The first payment goes
// through Checkout with setup_future_usage; the recurrent token is
// "<customer id>/<payment method id>".
type StripeGateway struct {
	sc              *client.API
	returnURL       string
	defaultCurrency string
}

type StripeConfig struct {
	SecretKey       string
	ReturnURL       string // payment_id and session_id are appended
	DefaultCurrency string
	// Backends overrides the API endpoint (tests).
	Backends *stripe.Backends
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if _, err := url.Parse(cfg.ReturnURL); err != nil {
		return nil, fmt.Errorf("invalid return url: %w", err)
	}
	cur := strings.ToLower(cfg.DefaultCurrency)
	if cur == "" {
		cur = "usd"
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, cfg.Backends)
	return &StripeGateway{sc: sc, returnURL: cfg.ReturnURL, defaultCurrency: cur}, nil
}

func (g *StripeGateway) Code() string { return "stripe" }

func (g *StripeGateway) Capabilities() adapter.CapabilitySet {
	return adapter.Capabilities(
		adapter.CapRecurrent, adapter.CapRefund, adapter.CapCancelToken,
		adapter.CapTokenValidation, adapter.CapTokenExpiry, adapter.CapChargeLookup,
	)
}

func (g *StripeGateway) currency(p *model.Payment) string {
	if p.Currency != "" {
		return strings.ToLower(p.Currency)
	}
	return g.defaultCurrency
}

func splitToken(token string) (customerID, paymentMethodID string, err error) {
	parts := strings.SplitN(token, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed stripe token")
	}
	return parts[0], parts[1], nil
}

// Begin opens a Checkout session that saves the card for later off-session use.
func (g *StripeGateway) Begin(ctx context.Context, p *model.Payment) (adapter.BeginResult, error) {
	sep := "?"
	if strings.Contains(g.returnURL, "?") {
		sep = "&"
	}
	success := g.returnURL + sep + "payment_id=" + url.QueryEscape(p.ID) + "&session_id={CHECKOUT_SESSION_ID}"
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.ID),
		CustomerCreation:  stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways)),
		SuccessURL:        stripe.String(success),
		CancelURL:         stripe.String(g.returnURL + sep + "payment_id=" + url.QueryEscape(p.ID) + "&status=cancelled"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency(p)),
					UnitAmount: stripe.Int64(p.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Subscription " + p.SubscriptionTypeID),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
			Metadata:         map[string]string{stripeMetaPaymentID: p.ID},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + p.ID)
	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return adapter.BeginResult{}, err
	}
	return adapter.BeginResult{RedirectURL: s.URL, ExternalID: s.ID}, nil
}

// Complete reads the Checkout session and, once paid, returns the saved card as token.
func (g *StripeGateway) Complete(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error) {
	if params["status"] == "cancelled" {
		return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: "cancelled", Message: "checkout cancelled"}, nil
	}
	sessionID := params["session_id"]
	if sessionID == "" {
		sessionID = p.ExternalID
	}
	if sessionID == "" {
		return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: "missing_session"}, nil
	}
	sp := &stripe.CheckoutSessionParams{}
	sp.Context = ctx
	sp.AddExpand("payment_intent.payment_method")
	s, err := g.sc.CheckoutSessions.Get(sessionID, sp)
	if err != nil {
		return adapter.CompleteResult{}, err
	}
	if s.ClientReferenceID != "" && s.ClientReferenceID != p.ID {
		return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: "session_mismatch"}, nil
	}

	switch {
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: "expired", ExternalID: s.ID}, nil
	case s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid:
		return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: string(s.PaymentStatus), ExternalID: s.ID}, nil
	}

	res := adapter.CompleteResult{Settlement: adapter.SettlementPaid, Code: string(s.PaymentStatus), ExternalID: s.ID}
	pi := s.PaymentIntent
	if pi == nil {
		return res, nil
	}
	res.ExternalID = pi.ID
	if pi.PaymentMethod != nil && s.Customer != nil {
		res.Token = s.Customer.ID + "/" + pi.PaymentMethod.ID
		if exp, ok := cardExpiry(pi.PaymentMethod); ok {
			res.TokenExpiresAt = &exp
		}
	}
	return res, nil
}

// Charge confirms an off-session PaymentIntent. p.ID is the idempotency key,
// so a repeated call after an unknown outcome cannot charge twice.
func (g *StripeGateway) Charge(ctx context.Context, p *model.Payment, token string) (adapter.ChargeResult, error) {
	customerID, pmID, err := splitToken(token)
	if err != nil {
		return adapter.ChargeResult{Status: adapter.ChargeFailure, Code: "invalid_token", Message: err.Error()}, nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.Amount),
		Currency:      stripe.String(g.currency(p)),
		Customer:      stripe.String(customerID),
		PaymentMethod: stripe.String(pmID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(p.ID)
	params.AddMetadata(stripeMetaPaymentID, p.ID)
	params.AddMetadata("variable_symbol", p.VariableSymbol)

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) {
			switch se.Type {
			case stripe.ErrorTypeCard:
				code := string(se.Code)
				if se.DeclineCode != "" {
					code = string(se.DeclineCode)
				}
				res := adapter.ChargeResult{Status: adapter.ChargeFailure, Code: code, Message: se.Msg}
				if se.PaymentIntent != nil {
					res.ExternalID = se.PaymentIntent.ID
				}
				return res, nil
			case stripe.ErrorTypeInvalidRequest:
				return adapter.ChargeResult{Status: adapter.ChargeFailure, Code: string(se.Code), Message: se.Msg}, nil
			}
		}
		// api errors, idempotency conflicts and transport failures: outcome unknown
		return adapter.ChargeResult{}, err
	}
	return intentResult(pi), nil
}

// LookupCharge finds the PaymentIntent created for p by its metadata.
func (g *StripeGateway) LookupCharge(ctx context.Context, p *model.Payment) (adapter.ChargeResult, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeMetaPaymentID, p.ID)
	iter := g.sc.PaymentIntents.Search(params)
	var found *stripe.PaymentIntent
	for iter.Next() {
		pi := iter.PaymentIntent()
		if found == nil || pi.Status == stripe.PaymentIntentStatusSucceeded {
			found = pi
		}
	}
	if err := iter.Err(); err != nil {
		return adapter.ChargeResult{}, err
	}
	if found == nil {
		return adapter.ChargeResult{Status: adapter.ChargeNotFound}, nil
	}
	return intentResult(found), nil
}

func intentResult(pi *stripe.PaymentIntent) adapter.ChargeResult {
	res := adapter.ChargeResult{Code: string(pi.Status), ExternalID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = adapter.ChargeOK
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		res.Status = adapter.ChargeDeferred
	default:
		// requires_payment_method, requires_action (no customer to authenticate), canceled
		res.Status = adapter.ChargeFailure
		if pi.LastPaymentError != nil {
			res.Code = string(pi.LastPaymentError.Code)
			res.Message = pi.LastPaymentError.Msg
		}
	}
	return res
}

func (g *StripeGateway) Refund(ctx context.Context, p *model.Payment, amount int64) (adapter.RefundResult, error) {
	if p.ExternalID == "" {
		return adapter.RefundResult{OK: false, Code: "missing_payment_intent"}, nil
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.ExternalID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	params.AddMetadata(stripeMetaPaymentID, p.ID)
	r, err := g.sc.Refunds.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
			return adapter.RefundResult{OK: false, Code: string(se.Code), Message: se.Msg}, nil
		}
		return adapter.RefundResult{}, err
	}
	ok := r.Status == stripe.RefundStatusSucceeded || r.Status == stripe.RefundStatusPending
	return adapter.RefundResult{
		OK:         ok,
		ExternalID: r.ID,
		Code:       string(r.Status),
		Amount:     r.Amount,
		RefundedAt: time.Unix(r.Created, 0),
	}, nil
}

// CancelToken detaches the payment method from its customer.
func (g *StripeGateway) CancelToken(ctx context.Context, token string) error {
	_, pmID, err := splitToken(token)
	if err != nil {
		return err
	}
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := g.sc.PaymentMethods.Detach(pmID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 400 {
			// already detached
			return nil
		}
		return err
	}
	return nil
}

func (g *StripeGateway) paymentMethod(ctx context.Context, pmID string) (*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	return g.sc.PaymentMethods.Get(pmID, params)
}

func (g *StripeGateway) CheckValid(ctx context.Context, token string) (bool, error) {
	customerID, pmID, err := splitToken(token)
	if err != nil {
		return false, nil
	}
	pm, err := g.paymentMethod(ctx, pmID)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	if pm.Customer == nil || pm.Customer.ID != customerID {
		return false, nil
	}
	if exp, ok := cardExpiry(pm); ok && time.Now().After(exp) {
		return false, nil
	}
	return true, nil
}

func (g *StripeGateway) CheckExpire(ctx context.Context, tokens []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(tokens))
	for _, t := range tokens {
		_, pmID, err := splitToken(t)
		if err != nil {
			continue
		}
		pm, err := g.paymentMethod(ctx, pmID)
		if err != nil {
			var se *stripe.Error
			if errors.As(err, &se) && se.HTTPStatusCode == 404 {
				continue
			}
			return out, err
		}
		if exp, ok := cardExpiry(pm); ok {
			out[t] = exp
		}
	}
	return out, nil
}

// cardExpiry is the first instant after the card's expiry month.
func cardExpiry(pm *stripe.PaymentMethod) (time.Time, bool) {
	if pm == nil || pm.Card == nil || pm.Card.ExpYear == 0 || pm.Card.ExpMonth == 0 {
		return time.Time{}, false
	}
	return time.Date(int(pm.Card.ExpYear), time.Month(pm.Card.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC), true
}
