// Package alerts fans operator notifications out to the configured channels.
// The risk workers and the command dispatcher call it through the Notifier
// interface; delivery failures are logged, never propagated into the path
// that raised the alert.
package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert is one operator notification
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter delivers an alert over one channel
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// floorAware lets a channel declare the minimum severity it wants
type floorAware interface {
	MinSeverity() Severity
}

// Manager fans alerts out to every configured channel
type Manager struct {
	alerters []Alerter
}

func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

// Send delivers the alert to all channels whose severity floor it clears
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	metrics.RecordAlertSent(string(alert.Severity))

	var lastErr error
	for _, alerter := range m.alerters {
		if fa, ok := alerter.(floorAware); ok && severityRank(alert.Severity) < severityRank(fa.MinSeverity()) {
			continue
		}
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SendCritical delivers a CRITICAL alert
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

// SendWarning delivers a WARNING alert
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

// SendInfo delivers an INFO alert
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// LogAlerter writes alerts to the structured log. Always configured; the
// log is the channel of last resort when Telegram is down.
type LogAlerter struct{}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}
	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}
	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Msg(alert.Message)
	return nil
}
