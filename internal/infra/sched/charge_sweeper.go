package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/infra/metrics"
	"recurrent-billing/internal/usecase"
)

// Sweeper is the part of the charge engine the sweeper drives.
type Sweeper interface {
	Sweep(ctx context.Context, run usecase.RunAll) (usecase.SweepStats, error)
}

// maxFollowUps bounds back-to-back passes so one tick cannot starve shutdown.
const maxFollowUps = 10

// ChargeSweeper runs a sweep every interval. When a pass was full and held
// overdue links it sweeps again at once instead of waiting for the next tick.
type ChargeSweeper struct {
	interval time.Duration
	engine   Sweeper
	run      usecase.RunAll
	log      *zerolog.Logger
}

func NewChargeSweeper(interval time.Duration, engine Sweeper, run usecase.RunAll, logger *zerolog.Logger) *ChargeSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if run == nil {
		run = usecase.RunSequential
	}
	l := logger.With().Str("component", "ChargeSweeper").Logger()
	return &ChargeSweeper{interval: interval, engine: engine, run: run, log: &l}
}

func (w *ChargeSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting charge sweeper")
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping charge sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one pass plus any follow-up passes and returns how many passes ran.
func (w *ChargeSweeper) tick(ctx context.Context) int {
	passes := 0
	for passes <= maxFollowUps {
		if ctx.Err() != nil {
			return passes
		}
		passes++
		stats, err := w.engine.Sweep(ctx, w.run)
		if err != nil {
			metrics.IncJobRun("charge_sweep", "failed")
			w.log.Error().Err(err).Msg("sweep failed")
			return passes
		}
		metrics.IncJobRun("charge_sweep", "ok")
		if stats.Due > 0 || stats.Reconciled > 0 {
			w.log.Info().
				Int("due", stats.Due).
				Int("urgent", stats.Urgent).
				Int("charged", stats.Charged).
				Int("failed", stats.Failed).
				Int("stopped", stats.Stopped).
				Int("unknown", stats.Unknown).
				Int("skipped", stats.Skipped).
				Int("reconciled", stats.Reconciled).
				Bool("follow_up", stats.FollowUp).
				Msg("sweep finished")
		}
		if !stats.FollowUp {
			return passes
		}
	}
	w.log.Warn().Int("passes", passes).Msg("urgent backlog remains after follow-up passes")
	return passes
}
