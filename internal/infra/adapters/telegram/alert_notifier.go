package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/config"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/metrics"
)

var _ adapter.Notifier = (*AlertNotifier)(nil)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertNotifier posts operator alerts to one or more Telegram chats.
type AlertNotifier struct {
	bot   sender
	chats []int64
	log   *zerolog.Logger
}

func NewAlertNotifier(cfg config.TelegramAlertConfig, logger *zerolog.Logger) (*AlertNotifier, error) {
	if cfg.Token == "" || len(cfg.ChatID) == 0 {
		return nil, errors.New("telegram alerts need a token and at least one chat id")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newAlertNotifier(bot, cfg.ChatID, logger), nil
}

func newAlertNotifier(bot sender, chats []int64, logger *zerolog.Logger) *AlertNotifier {
	l := logger.With().Str("component", "AlertNotifier").Logger()
	return &AlertNotifier{bot: bot, chats: chats, log: &l}
}

// Notify sends to every chat and returns the first delivery error.
func (n *AlertNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	text := FormatAlert(a)
	var firstErr error
	for _, chat := range n.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chat, text)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			metrics.AlertsTotal.WithLabelValues(string(a.Level), "error").Inc()
			n.log.Error().Err(err).Int64("chat_id", chat).Str("title", a.Title).Msg("alert delivery failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsTotal.WithLabelValues(string(a.Level), "sent").Inc()
	}
	return firstErr
}

var levelMark = map[adapter.AlertLevel]string{
	adapter.AlertInfo:     "[info]",
	adapter.AlertWarning:  "[warning]",
	adapter.AlertCritical: "[CRITICAL]",
}

// FormatAlert renders a plain-text message with fields in key order.
func FormatAlert(a adapter.Alert) string {
	var b strings.Builder
	mark := levelMark[a.Level]
	if mark == "" {
		mark = "[" + string(a.Level) + "]"
	}
	b.WriteString(mark + " " + a.Title)
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}
