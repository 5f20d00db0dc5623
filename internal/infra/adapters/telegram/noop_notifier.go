package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/metrics"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier writes alerts to the log. Used when no alert channel is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	ev := n.log.Warn()
	if a.Level == adapter.AlertInfo {
		ev = n.log.Info()
	}
	ev.Str("level", string(a.Level)).Interface("fields", a.Fields).Msg(a.Title)
	metrics.AlertsTotal.WithLabelValues(string(a.Level), "logged").Inc()
	return nil
}
