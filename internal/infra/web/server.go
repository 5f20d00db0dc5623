package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/infra/api"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/infra/metrics"
	red "recurrent-billing/internal/infra/redis"
	"recurrent-billing/internal/usecase"
)

type DuplicateService interface {
	ListDuplicates(ctx context.Context) ([]usecase.DuplicateGroup, error)
	Resolve(ctx context.Context, keepID, stopID, adminID string) (*model.RecurrentPayment, error)
}

type Refunder interface {
	Refund(ctx context.Context, paymentID string, amount int64, actorID string) (*usecase.RefundOutcome, error)
}

type Charger interface {
	Charge(ctx context.Context, id string) (*usecase.ChargeReport, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deps are the use cases behind the admin API.
type Deps struct {
	Recurrent  usecase.RecurrentUseCase
	Duplicates DuplicateService
	Refunds    Refunder
	Charges    Charger
	Ledger     usecase.LedgerUseCase
	// Limiter is optional; RateLimit is requests per minute per admin.
	Limiter   RateLimiter
	RateLimit int
}

type Server struct {
	d    Deps
	auth *AuthManager
	log  *zerolog.Logger
}

func NewServer(d Deps, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{d: d, auth: auth, log: &l}
}

// Router builds the admin API. Everything under /api/v1 requires an admin token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(s.log),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(30*time.Second),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.countRequests, s.authMiddleware, s.rateLimit)

		r.Get("/users/{userID}/recurrent-payments", s.listUserRecurrents)
		r.Post("/users/{userID}/recurrent-payments/{id}/stop", s.stopByUser)
		r.Post("/users/{userID}/erase", s.eraseUser)

		r.Get("/recurrent-payments/duplicates", s.listDuplicates)
		r.Post("/recurrent-payments/duplicates/resolve", s.resolveDuplicate)
		r.Get("/recurrent-payments/{id}", s.getRecurrent)
		r.Post("/recurrent-payments/{id}/stop", s.stopByAdmin)
		r.Post("/recurrent-payments/{id}/reactivate", s.reactivate)
		r.Post("/recurrent-payments/{id}/charge", s.chargeNow)

		r.Get("/payments", s.listPayments)
		r.Get("/payments/revenue", s.revenue)
		r.Get("/payments/{id}", s.getPayment)
		r.Post("/payments/{id}/begin", s.beginPayment)
		r.Post("/payments/{id}/refund", s.refund)
		r.Post("/payments/{id}/status", s.updatePaymentStatus)
		r.Post("/checkouts", s.checkout)

		r.Post("/events/payment-completed", s.paymentCompleted)
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Int("port", port).Msg("admin API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		ctx := logging.WithAdminID(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.d.Limiter == nil || s.d.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := s.d.Limiter.Allow(r.Context(), red.AdminRequestKey(logging.AdminID(r.Context())), s.d.RateLimit, time.Minute)
		if err != nil {
			// An unavailable limiter must not lock operators out.
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		class := fmt.Sprintf("%dxx", rec.status/100)
		if rec.status == http.StatusUnauthorized {
			class = "unauthorized"
		}
		metrics.IncAdminRequest(route, class)
	})
}

// fail writes err as JSON and logs unexpected ones.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
		if status == http.StatusInternalServerError {
			writeError(w, status, code, "internal error")
			return
		}
	}
	writeError(w, status, code, err.Error())
}
