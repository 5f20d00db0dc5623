package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
)

var _ adapter.Refunder = (*ZarinPalGateway)(nil)

// ZarinPalGateway is a redirect gateway: REST v4 for request/verify and
// GraphQL v4 for refunds. It issues no reusable tokens.
type ZarinPalGateway struct {
	merchantID      string
	returnURL       string // payment_id is appended
	sandbox         bool
	client          *http.Client
	accessToken     string // OAuth2 access token (GraphQL)
	graphqlEndpoint string
	apiBase         string
}

func NewZarinPalGateway(merchantID, returnURL string, sandbox bool) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, errors.New("merchant id empty")
	}
	if _, err := url.Parse(returnURL); err != nil {
		return nil, fmt.Errorf("invalid return url: %w", err)
	}
	base := "https://api.zarinpal.com/pg/v4"
	if sandbox {
		base = "https://sandbox.zarinpal.com/pg/v4"
	}
	return &ZarinPalGateway{
		merchantID:      merchantID,
		returnURL:       returnURL,
		sandbox:         sandbox,
		client:          &http.Client{Timeout: 15 * time.Second},
		graphqlEndpoint: "https://api.zarinpal.com/api/v4/graphql",
		apiBase:         base,
	}, nil
}

// SetRefundAuth configures OAuth and the GraphQL endpoint used for refunds.
func (z *ZarinPalGateway) SetRefundAuth(accessToken, graphqlEndpoint string) {
	z.accessToken = accessToken
	if graphqlEndpoint != "" {
		z.graphqlEndpoint = graphqlEndpoint
	}
}

// SetBaseURL points the REST calls somewhere else (tests).
func (z *ZarinPalGateway) SetBaseURL(base string) { z.apiBase = base }

func (z *ZarinPalGateway) Code() string { return "zarinpal" }

func (z *ZarinPalGateway) Capabilities() adapter.CapabilitySet {
	if z.accessToken == "" {
		return 0
	}
	return adapter.Capabilities(adapter.CapRefund)
}

func (z *ZarinPalGateway) callbackURL(p *model.Payment) string {
	sep := "?"
	if u, err := url.Parse(z.returnURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return z.returnURL + sep + "payment_id=" + url.QueryEscape(p.ID)
}

func (z *ZarinPalGateway) post(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiBase+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := z.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("zarinpal http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Begin calls /payment/request.json; the authority is the external id.
func (z *ZarinPalGateway) Begin(ctx context.Context, p *model.Payment) (adapter.BeginResult, error) {
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       p.Amount,
		"description":  "payment " + p.VariableSymbol,
		"callback_url": z.callbackURL(p),
		"metadata":     map[string]string{"order_id": p.VariableSymbol},
	}
	if p.Currency != "" {
		payload["currency"] = p.Currency
	}
	var out struct {
		Data struct {
			Authority string `json:"authority"`
			Code      int    `json:"code"`
			Message   string `json:"message"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/request.json", payload, &out); err != nil {
		return adapter.BeginResult{}, err
	}
	if out.Data.Code != 100 || out.Data.Authority == "" {
		return adapter.BeginResult{}, fmt.Errorf("zarinpal request failed: code %d %s", out.Data.Code, out.Data.Message)
	}
	payURL := fmt.Sprintf("https://www.zarinpal.com/pg/StartPay/%s", out.Data.Authority)
	if z.sandbox {
		payURL = fmt.Sprintf("https://sandbox.zarinpal.com/pg/StartPay/%s", out.Data.Authority)
	}
	return adapter.BeginResult{RedirectURL: payURL, ExternalID: out.Data.Authority}, nil
}

// Complete verifies the payment when the customer returns with Status=OK.
func (z *ZarinPalGateway) Complete(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error) {
	authority := params["Authority"]
	if authority == "" {
		authority = p.ExternalID
	}
	if authority == "" {
		return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: "missing_authority"}, nil
	}
	if st := params["Status"]; st != "" && st != "OK" {
		return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: st, Message: "cancelled by customer", ExternalID: authority}, nil
	}

	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      p.Amount,
		"authority":   authority,
	}
	var out struct {
		Data struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			RefID   int64  `json:"ref_id"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/verify.json", payload, &out); err != nil {
		return adapter.CompleteResult{}, err
	}
	code := strconv.Itoa(out.Data.Code)
	// 100 is success, 101 means already verified.
	if (out.Data.Code == 100 || out.Data.Code == 101) && out.Data.RefID != 0 {
		return adapter.CompleteResult{
			Settlement: adapter.SettlementPaid,
			Code:       code,
			Message:    "ref_id " + strconv.FormatInt(out.Data.RefID, 10),
			ExternalID: authority,
		}, nil
	}
	if out.Data.Code == 0 {
		return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: "no_answer", ExternalID: authority}, nil
	}
	return adapter.CompleteResult{Settlement: adapter.SettlementFailed, Code: code, Message: out.Data.Message, ExternalID: authority}, nil
}

// Refund issues a refund via the GraphQL AddRefund mutation against the session (authority).
func (z *ZarinPalGateway) Refund(ctx context.Context, p *model.Payment, amount int64) (adapter.RefundResult, error) {
	if z.accessToken == "" {
		return adapter.RefundResult{}, errors.New("zarinpal refund requires access token: configure payment.zarinpal.access_token")
	}
	type gqlReq struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	reqBody := gqlReq{
		Query: `mutation AddRefund($session_id: ID!, $amount: BigInteger!, $description: String, $method: InstantPayoutActionTypeEnum, $reason: RefundReasonEnum) {
  resource: AddRefund(session_id: $session_id, amount: $amount, description: $description, method: $method, reason: $reason) {
    id
    amount
    timeline { refund_amount refund_time refund_status }
  }
}`,
		Variables: map[string]any{
			"session_id":  p.ExternalID,
			"amount":      amount,
			"description": "refund " + p.VariableSymbol,
			"method":      "PAYA",
			"reason":      "CUSTOMER_REQUEST",
		},
	}
	b, _ := json.Marshal(reqBody)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.graphqlEndpoint, bytes.NewReader(b))
	if err != nil {
		return adapter.RefundResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+z.accessToken)

	resp, err := z.client.Do(httpReq)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RefundResult{OK: false, Code: strconv.Itoa(resp.StatusCode), Message: "refund http error"}, nil
	}
	var out struct {
		Data struct {
			Resource struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Timeline struct {
					RefundAmount int64  `json:"refund_amount"`
					RefundTime   string `json:"refund_time"`
					RefundStatus string `json:"refund_status"`
				} `json:"timeline"`
			} `json:"resource"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.RefundResult{}, err
	}
	if out.Errors != nil {
		return adapter.RefundResult{OK: false, Code: "graphql_error", Message: fmt.Sprint(out.Errors)}, nil
	}
	var rt time.Time
	if t := out.Data.Resource.Timeline.RefundTime; t != "" {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			rt = parsed
		}
	}
	return adapter.RefundResult{
		OK:         true,
		ExternalID: out.Data.Resource.ID,
		Code:       out.Data.Resource.Timeline.RefundStatus,
		Amount:     out.Data.Resource.Timeline.RefundAmount,
		RefundedAt: rt,
	}, nil
}
