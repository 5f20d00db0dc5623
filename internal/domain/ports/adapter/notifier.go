package adapter

import "context"

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is an operational message for the billing team.
type Alert struct {
	Level  AlertLevel
	Title  string
	Fields map[string]string
}

// Notifier delivers alerts to operational monitoring.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
