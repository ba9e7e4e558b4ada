// Package notification pushes trading events (entries, exits, EMA touches,
// the daily report) to outside channels. Delivery is best-effort: a failed
// send is logged and never touches the trading path.
package notification

import (
	"context"
	"fmt"
	"log"
)

// AlertLevel ranks an alert's urgency.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one outbound notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Level, a.Title, a.Message)
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. Always registered, so every
// alert is visible even with no external channel configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] %s", alert)
	return nil
}
