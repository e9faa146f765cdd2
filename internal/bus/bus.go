// Package bus publishes domain events over NATS so the alerting layer, the
// websocket hub and the workers observe state changes without direct wiring
// to the components that produce them.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Event subjects. The configured prefix (default "bridge.") is prepended.
const (
	SubjectSignalCreated     = "signal.created"
	SubjectTradeOpened       = "trade.opened"
	SubjectTradeClosed       = "trade.closed"
	SubjectCommandCompleted  = "command.completed"
	SubjectBreakerTripped    = "breaker.tripped"
	SubjectConnectionChanged = "connection.changed"
)

// Event is the envelope every bus message travels in
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Subject   string                 `json:"subject"`
	AccountID int64                  `json:"account_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler is a callback for received events
type Handler func(evt *Event)

// Bus wraps the NATS connection
type Bus struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// Connect dials NATS with infinite reconnects
func Connect(url, prefix string) (*Bus, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("tradebridge-server"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	log.Info().Str("nats_url", url).Str("prefix", prefix).Msg("Event bus connected")
	return NewFromConn(nc, prefix, true), nil
}

// NewFromConn wraps an existing connection (embedded server in tests).
// owned controls whether Close tears the connection down.
func NewFromConn(nc *nats.Conn, prefix string, owned bool) *Bus {
	if prefix == "" {
		prefix = "bridge."
	}
	return &Bus{nc: nc, prefix: prefix, owned: owned}
}

// Close drains and closes the owned connection
func (b *Bus) Close() {
	if b.owned {
		if err := b.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
}

// Connected reports connection health
func (b *Bus) Connected() bool {
	return b.nc.IsConnected()
}

// Publish emits one event. Failures are logged, not returned: event delivery
// is best-effort and must never fail a trading operation.
func (b *Bus) Publish(subject string, evt *Event) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Subject = subject

	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}

	if err := b.nc.Publish(b.prefix+subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Subscribe registers a handler for one subject. "*" and ">" wildcards work
// as in NATS.
func (b *Bus) Subscribe(subject string, handler Handler) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.prefix+subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed event")
			return
		}
		handler(&evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush blocks until all published events reached the server
func (b *Bus) Flush() error {
	return b.nc.Flush()
}
