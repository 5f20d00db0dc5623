package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/infra/metrics"
	"recurrent-billing/internal/usecase"
)

// Completer finishes a gateway round trip.
type Completer interface {
	Complete(ctx context.Context, gateway, paymentID string, params map[string]string) (*usecase.Completion, error)
}

// Server is the customer-facing endpoint gateways redirect back to.
type Server struct {
	ledger  Completer
	timeout time.Duration
	log     *zerolog.Logger
}

func NewServer(ledger Completer, timeout time.Duration, logger *zerolog.Logger) *Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := logger.With().Str("component", "PaymentReturn").Logger()
	return &Server{ledger: ledger, timeout: timeout, log: &l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/payments/{gateway}/return", s.handleReturn)
	r.Post("/payments/{gateway}/return", s.handleReturn)
	return Chain(r, TraceID(s.log), RequestLog(s.log), Recover(s.log))
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("payment return endpoint listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	gateway := chi.URLParam(r, "gateway")
	result := "error"
	defer func() {
		metrics.PaymentReturnRequests.WithLabelValues(gateway, result).Inc()
		metrics.PaymentReturnDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, pageData{Title: "Invalid request", Msg: "The payment gateway sent a malformed response."})
		return
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	paymentID := params["payment_id"]
	if paymentID == "" {
		s.render(w, http.StatusBadRequest, pageData{Title: "Invalid request", Msg: "Missing payment reference."})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	out, err := s.ledger.Complete(ctx, gateway, paymentID, params)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Str("gateway", gateway).Str("payment_id", paymentID).Msg("payment return failed")
		s.render(w, http.StatusBadGateway, pageData{Title: "Payment not confirmed", Msg: "We could not confirm your payment yet. You will be notified once it settles."})
		return
	}
	if out.RedirectURL != "" {
		result = "pending"
		http.Redirect(w, r, out.RedirectURL, http.StatusSeeOther)
		return
	}

	switch out.Settlement {
	case adapter.SettlementPaid:
		result = "paid"
		data := pageData{OK: true, Title: "Payment successful", Msg: "Thank you, your payment was received.", Reference: out.Payment.VariableSymbol}
		if out.Recurrent != nil {
			data.Msg += " Your subscription will renew automatically."
		}
		s.render(w, http.StatusOK, data)
	case adapter.SettlementFailed:
		result = "failed"
		s.render(w, http.StatusOK, pageData{Title: "Payment failed", Msg: "The payment was not completed. No money was taken.", Reference: out.Payment.VariableSymbol})
	default:
		result = "pending"
		s.render(w, http.StatusOK, pageData{Title: "Payment pending", Msg: "Your payment is being processed.", Reference: out.Payment.VariableSymbol})
	}
}

type pageData struct {
	OK        bool
	Title     string
	Msg       string
	Reference string
}

var page = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Title}}</h2>
  <p>{{.Msg}}</p>
  {{if .Reference}}<div class="small">Reference: {{.Reference}}</div>{{end}}
</div>
</body>
</html>`))

func (s *Server) render(w http.ResponseWriter, code int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = page.Execute(w, data)
}
