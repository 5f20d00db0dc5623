package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/config"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/adapters/gateway"
	tele "recurrent-billing/internal/infra/adapters/telegram"
	"recurrent-billing/internal/infra/api"
	pg "recurrent-billing/internal/infra/db/postgres"
	"recurrent-billing/internal/infra/logging"
	"recurrent-billing/internal/infra/metrics"
	red "recurrent-billing/internal/infra/redis"
	"recurrent-billing/internal/infra/sched"
	"recurrent-billing/internal/infra/scheduler"
	"recurrent-billing/internal/infra/security"
	"recurrent-billing/internal/infra/web"
	"recurrent-billing/internal/infra/worker"
	"recurrent-billing/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop gateway allowed)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("recurrent-billing stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	limiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	var sealer pg.TokenSealer
	if cfg.Security.EncryptionKey != "" {
		cipher, err := security.NewTokenCipher(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("token cipher: %w", err)
		}
		sealer = cipher
	} else {
		logger.Warn().Msg("security.encryption_key not set; gateway tokens are stored unencrypted")
	}
	tm := pg.NewTxManager(pool)
	payments := pg.NewPaymentRepo(pool)
	recurrents := pg.NewRecurrentPaymentRepo(pool, sealer)
	types := pg.NewSubscriptionTypeCache(pg.NewSubscriptionTypeRepo(pool), redisClient, cfg.Redis.TTL, logger)

	// ---- Gateways ----
	gateways, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	// ---- Alerts ----
	var notifier adapter.Notifier
	if cfg.Alerts.Telegram.Token != "" && len(cfg.Alerts.Telegram.ChatID) > 0 {
		n, err := tele.NewAlertNotifier(cfg.Alerts.Telegram, logger)
		if err != nil {
			return fmt.Errorf("telegram alerts: %w", err)
		}
		notifier = n
	} else {
		notifier = tele.NewNoopNotifier(logger)
	}

	// ---- Use cases ----
	bc := cfg.Billing
	policy := usecase.ChargePolicy{
		Backoff:             bc.RecurrentPaymentCharges,
		FastChargeThreshold: bc.FastChargeThreshold(),
		RenewalLead:         bc.RenewalLead,
		Reactivation:        usecase.ReactivationPolicy(bc.ReactivationPolicy),
	}
	tokenUC := usecase.NewTokenUseCase(recurrents, gateways, bc.BatchSize, bc.ChargeTimeout, logger)
	recurrentUC := usecase.NewRecurrentUseCase(recurrents, payments, types, gateways, tokenUC, tm, policy, bc.ChargeTimeout, logger)
	chargeUC := usecase.NewChargeUseCase(recurrents, payments, types, gateways, tm, locker, notifier, usecase.ChargeConfig{
		Policy:        policy,
		ChargeTimeout: bc.ChargeTimeout,
		StaleAfter:    bc.StaleChargingAfter,
		BatchSize:     bc.BatchSize,
		LockTTL:       cfg.Redis.LockTTL,
	}, logger)
	ledgerUC := usecase.NewLedgerUseCase(payments, types, gateways, recurrentUC, tm, notifier, bc.ChargeTimeout, logger)
	refundUC := usecase.NewRefundUseCase(payments, gateways, tm, bc.ChargeTimeout, logger)
	duplicateUC := usecase.NewDuplicateUseCase(recurrents, tm, notifier, logger)

	// ---- Background jobs ----
	workers := worker.NewPool(bc.Workers, logger)
	workers.Start(ctx)
	defer workers.Stop()

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("job", name).Msg("background job stopped")
			}
		}()
	}
	background("charge_sweep", sched.NewChargeSweeper(bc.SweepInterval, chargeUC, workers.RunAll, logger).Run)
	background("token_expiry", sched.NewTokenExpiryWorker(bc.TokenExpiryInterval, tokenUC, logger).Run)
	background("payment_timeout", sched.NewPaymentReconciler(ledgerUC, bc.SweepInterval, bc.CheckoutTimeout, logger).Run)

	dupReport := scheduler.NewScheduler(bc.DuplicateReportInterval, scheduler.JobFunc{JobName: "duplicate_report", Fn: duplicateUC.Report}, logger)
	dupReport.Start(ctx)
	defer dupReport.Stop()

	// ---- HTTP ----
	admin := web.NewServer(web.Deps{
		Recurrent:  recurrentUC,
		Duplicates: duplicateUC,
		Refunds:    refundUC,
		Charges:    chargeUC,
		Ledger:     ledgerUC,
		Limiter:    limiter,
		RateLimit:  cfg.Admin.RateLimit,
	}, web.NewAuthManager(cfg.Admin.JWTSecret, 0), logger)
	returns := api.NewServer(ledgerUC, bc.ChargeTimeout, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- admin.ListenAndServe(ctx, cfg.Admin.Port) }()
	go func() { errCh <- returns.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.HTTP.Port)) }()

	return awaitShutdown(ctx, cancel, errCh, &wg, logger)
}

// awaitShutdown blocks until ctx ends or a listener fails. Either way the
// background jobs are cancelled before waiting for them.
func awaitShutdown(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, wg *sync.WaitGroup, logger *zerolog.Logger) error {
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("listener failed; shutting down")
	}
	cancel()
	wg.Wait()
	return runErr
}

// buildRegistry registers every configured gateway driver. A driver with no
// credentials is skipped with a warning so one missing account does not stop billing.
func buildRegistry(cfg *config.Config, logger *zerolog.Logger) (*gateway.Registry, error) {
	reg := gateway.NewRegistry()
	pc := cfg.Payment

	if pc.Stripe.SecretKey != "" {
		gw, err := gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey:       pc.Stripe.SecretKey,
			ReturnURL:       pc.Stripe.ReturnURL,
			DefaultCurrency: pc.Stripe.DefaultCurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		if err := reg.Register(gw); err != nil {
			return nil, err
		}
	} else {
		logger.Warn().Str("gateway", "stripe").Msg("gateway not configured")
	}

	if pc.ZarinPal.MerchantID != "" {
		gw, err := gateway.NewZarinPalGateway(pc.ZarinPal.MerchantID, pc.ZarinPal.ReturnURL, pc.ZarinPal.Sandbox)
		if err != nil {
			return nil, fmt.Errorf("zarinpal: %w", err)
		}
		gw.SetRefundAuth(pc.ZarinPal.AccessToken, pc.ZarinPal.GraphQLEndpoint)
		if err := reg.Register(gw); err != nil {
			return nil, err
		}
	} else {
		logger.Warn().Str("gateway", "zarinpal").Msg("gateway not configured")
	}

	if pc.BankTransfer.Enabled {
		if err := reg.Register(gateway.NewBankTransferGateway(pc.BankTransfer.InstructionsURL, pc.BankTransfer.Account)); err != nil {
			return nil, err
		}
	}

	if pc.Noop {
		if !cfg.Runtime.Dev {
			logger.Warn().Msg("noop gateway registered outside dev mode")
		}
		if err := reg.Register(gateway.NewNoopGateway("noop")); err != nil {
			return nil, err
		}
	}

	if len(reg.Codes()) == 0 {
		return nil, fmt.Errorf("no payment gateway configured")
	}
	logger.Info().Strs("gateways", reg.Codes()).Msg("payment gateways registered")
	return reg, nil
}
