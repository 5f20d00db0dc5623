package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/usecase"
)

type recurrentDTO struct {
	ID                     string     `json:"id"`
	ChainID                string     `json:"chain_id"`
	UserID                 string     `json:"user_id"`
	ParentPaymentID        string     `json:"parent_payment_id"`
	PaymentID              *string    `json:"payment_id,omitempty"`
	SubscriptionTypeID     string     `json:"subscription_type_id"`
	NextSubscriptionTypeID *string    `json:"next_subscription_type_id,omitempty"`
	CustomAmount           *int64     `json:"custom_amount,omitempty"`
	Gateway                string     `json:"gateway"`
	State                  string     `json:"state"`
	ChargeAt               time.Time  `json:"charge_at"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	Retries                int        `json:"retries"`
	ResultCode             string     `json:"result_code,omitempty"`
	ResultMessage          string     `json:"result_message,omitempty"`
	Note                   string     `json:"note,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

func toRecurrentDTO(rp *model.RecurrentPayment) recurrentDTO {
	return recurrentDTO{
		ID:                     rp.ID,
		ChainID:                rp.ChainID,
		UserID:                 rp.UserID,
		ParentPaymentID:        rp.ParentPaymentID,
		PaymentID:              rp.PaymentID,
		SubscriptionTypeID:     rp.SubscriptionTypeID,
		NextSubscriptionTypeID: rp.NextSubscriptionTypeID,
		CustomAmount:           rp.CustomAmount,
		Gateway:                rp.Gateway,
		State:                  string(rp.State),
		ChargeAt:               rp.ChargeAt,
		ExpiresAt:              rp.ExpiresAt,
		Retries:                rp.Retries,
		ResultCode:             rp.ResultCode,
		ResultMessage:          rp.ResultMessage,
		Note:                   rp.Note,
		CreatedAt:              rp.CreatedAt,
	}
}

func toRecurrentDTOs(rps []*model.RecurrentPayment) []recurrentDTO {
	out := make([]recurrentDTO, 0, len(rps))
	for _, rp := range rps {
		out = append(out, toRecurrentDTO(rp))
	}
	return out
}

type paymentDTO struct {
	ID                 string     `json:"id"`
	VariableSymbol     string     `json:"variable_symbol"`
	UserID             string     `json:"user_id"`
	Amount             int64      `json:"amount"`
	AdditionalAmount   int64      `json:"additional_amount"`
	RefundedAmount     int64      `json:"refunded_amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	Gateway            string     `json:"gateway"`
	SubscriptionTypeID string     `json:"subscription_type_id"`
	RecurrentCharge    bool       `json:"recurrent_charge"`
	ExternalID         string     `json:"external_id,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toPaymentDTO(p *model.Payment) paymentDTO {
	return paymentDTO{
		ID:                 p.ID,
		VariableSymbol:     p.VariableSymbol,
		UserID:             p.UserID,
		Amount:             p.Amount,
		AdditionalAmount:   p.AdditionalAmount,
		RefundedAmount:     p.RefundedAmount,
		Currency:           p.Currency,
		Status:             string(p.Status),
		Gateway:            p.Gateway,
		SubscriptionTypeID: p.SubscriptionTypeID,
		RecurrentCharge:    p.RecurrentCharge,
		ExternalID:         p.ExternalID,
		PaidAt:             p.PaidAt,
		CreatedAt:          p.CreatedAt,
	}
}

type quoteDTO struct {
	SubscriptionTypeID string `json:"subscription_type_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Custom             bool   `json:"custom"`
}

type auditDTO struct {
	Action    string    `json:"action"`
	ActorType string    `json:"actor_type"`
	ActorID   string    `json:"actor_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

type recurrentViewDTO struct {
	Record        recurrentDTO `json:"record"`
	CanStop       bool         `json:"can_stop"`
	CanReactivate bool         `json:"can_reactivate"`
	NextCharge    *quoteDTO    `json:"next_charge,omitempty"`
	QuoteError    string       `json:"quote_error,omitempty"`
	History       []auditDTO   `json:"history"`
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidArgument)
	}
	return nil
}

func adminID(r *http.Request) string { return logging.AdminID(r.Context()) }

func (s *Server) listUserRecurrents(w http.ResponseWriter, r *http.Request) {
	recs, err := s.d.Recurrent.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrentDTOs(recs))
}

func (s *Server) getRecurrent(w http.ResponseWriter, r *http.Request) {
	v, err := s.d.Recurrent.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := recurrentViewDTO{
		Record:        toRecurrentDTO(v.Record),
		CanStop:       v.CanStop,
		CanReactivate: v.CanReactivate,
		QuoteError:    v.QuoteError,
		History:       make([]auditDTO, 0, len(v.History)),
	}
	if q := v.NextCharge; q != nil {
		out.NextCharge = &quoteDTO{SubscriptionTypeID: q.SubscriptionType.ID, Amount: q.Amount(), Currency: q.Currency, Custom: q.Custom}
	}
	for _, a := range v.History {
		out.History = append(out.History, auditDTO{Action: string(a.Action), ActorType: string(a.ActorType), ActorID: a.ActorID, Note: a.Note, At: a.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type stopRequest struct {
	Note string `json:"note"`
}

func (s *Server) stopByAdmin(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rp, err := s.d.Recurrent.StopByAdmin(r.Context(), chi.URLParam(r, "id"), adminID(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrentDTO(rp))
}

func (s *Server) stopByUser(w http.ResponseWriter, r *http.Request) {
	rp, err := s.d.Recurrent.StopByUser(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrentDTO(rp))
}

func (s *Server) reactivate(w http.ResponseWriter, r *http.Request) {
	rp, err := s.d.Recurrent.Reactivate(r.Context(), chi.URLParam(r, "id"), adminID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurrentDTO(rp))
}

func (s *Server) chargeNow(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Charges.Charge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := map[string]any{
		"recurrent_id":   rep.RecurrentID,
		"chain_id":       rep.ChainID,
		"outcome":        string(rep.Outcome),
		"payment_id":     rep.PaymentID,
		"result_code":    rep.ResultCode,
		"result_message": rep.ResultMessage,
	}
	if rep.Successor != nil {
		out["successor"] = toRecurrentDTO(rep.Successor)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) eraseUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.d.Recurrent.EraseUser(r.Context(), chi.URLParam(r, "userID"), adminID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped":            toRecurrentDTOs(res.Stopped),
		"tokens_cancelled":   res.Tokens.Cancelled,
		"tokens_unsupported": res.Tokens.Unsupported,
		"tokens_failed":      res.Tokens.Failed,
	})
}

type duplicateGroupDTO struct {
	UserID             string         `json:"user_id"`
	SubscriptionTypeID string         `json:"subscription_type_id"`
	Records            []recurrentDTO `json:"records"`
}

func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.d.Duplicates.ListDuplicates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]duplicateGroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, duplicateGroupDTO{UserID: g.UserID, SubscriptionTypeID: g.SubscriptionTypeID, Records: toRecurrentDTOs(g.Records)})
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	KeepID string `json:"keep_id"`
	StopID string `json:"stop_id"`
}

func (s *Server) resolveDuplicate(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.KeepID == "" || req.StopID == "" {
		s.fail(w, r, fmt.Errorf("%w: keep_id and stop_id are required", domain.ErrInvalidArgument))
		return
	}
	rp, err := s.d.Duplicates.Resolve(r.Context(), req.KeepID, req.StopID, adminID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrentDTO(rp))
}

type refundRequest struct {
	// Amount in minor units; 0 refunds what is left.
	Amount int64 `json:"amount"`
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.d.Refunds.Refund(r.Context(), chi.URLParam(r, "id"), req.Amount, adminID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment":     toPaymentDTO(out.Payment),
		"amount":      out.Amount,
		"full":        out.Full,
		"external_id": out.ExternalID,
	})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Ledger.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

type statusRequest struct {
	Status string `json:"status"`
	Notify bool   `json:"notify"`
}

func (s *Server) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Status == "" {
		s.fail(w, r, fmt.Errorf("%w: status is required", domain.ErrInvalidArgument))
		return
	}
	p, err := s.d.Ledger.UpdateStatus(r.Context(), chi.URLParam(r, "id"), model.PaymentStatus(req.Status), req.Notify)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// window reads the from/to query bounds (RFC 3339); the default is the last 30 days.
func window(r *http.Request) (from, to time.Time, err error) {
	to = time.Now()
	from = to.AddDate(0, 0, -30)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("%w: from", domain.ErrInvalidArgument)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("%w: to", domain.ErrInvalidArgument)
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must be before to", domain.ErrInvalidArgument)
	}
	return from, to, nil
}

// revenue sums captured money net of refunds over [from, to).
func (s *Server) revenue(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sum, err := s.d.Ledger.TotalAmountSum(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "total": sum})
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, fmt.Errorf("%w: limit", domain.ErrInvalidArgument))
			return
		}
		limit = min(n, maxListLimit)
	}
	ps, err := s.d.Ledger.ListByPeriod(r.Context(), from, to, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]paymentDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type checkoutRequest struct {
	UserID             string `json:"user_id"`
	SubscriptionTypeID string `json:"subscription_type_id"`
	Gateway            string `json:"gateway"`
	Currency           string `json:"currency"`
	AdditionalAmount   int64  `json:"additional_amount"`
	AdditionalType     string `json:"additional_type"`
}

// checkout creates a payment on behalf of a customer and returns the gateway
// link to send them to.
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.UserID == "" || req.SubscriptionTypeID == "" || req.Gateway == "" {
		s.fail(w, r, fmt.Errorf("%w: user_id, subscription_type_id and gateway are required", domain.ErrInvalidArgument))
		return
	}
	p, begin, err := s.d.Ledger.Checkout(r.Context(), usecase.CheckoutRequest{
		UserID:             req.UserID,
		SubscriptionTypeID: req.SubscriptionTypeID,
		Gateway:            req.Gateway,
		Currency:           req.Currency,
		AdditionalAmount:   req.AdditionalAmount,
		AdditionalType:     model.AdditionalType(req.AdditionalType),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment":      toPaymentDTO(p),
		"redirect_url": begin.RedirectURL,
	})
}

// beginPayment restarts the gateway round trip of a payment still in form.
func (s *Server) beginPayment(w http.ResponseWriter, r *http.Request) {
	begin, err := s.d.Ledger.Begin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redirect_url": begin.RedirectURL, "external_id": begin.ExternalID})
}

type paymentCompletedRequest struct {
	PaymentID string     `json:"payment_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// paymentCompleted lets another system hand over a completed payment with its
// gateway token. Redelivery returns the chain created the first time.
func (s *Server) paymentCompleted(w http.ResponseWriter, r *http.Request) {
	var req paymentCompletedRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.PaymentID == "" || req.Token == "" {
		s.fail(w, r, fmt.Errorf("%w: payment_id and token are required", domain.ErrInvalidArgument))
		return
	}
	rp, err := s.d.Recurrent.CreateFromPayment(r.Context(), req.PaymentID, req.Token, req.ExpiresAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurrentDTO(rp))
}
