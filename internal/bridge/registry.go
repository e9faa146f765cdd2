// Package bridge is the EA-facing communication core: the multi-port HTTP
// listeners, the in-memory connection registry, and the command dispatcher
// that moves instructions through Redis to the terminals.
package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Connection states
const (
	StateConnecting   = "CONNECTING"
	StateConnected    = "CONNECTED"
	StateReconnecting = "RECONNECTING"
	StateFailed       = "FAILED"
)

// Health scoring: heartbeats add, failures subtract, clamped to [0, 100]
const (
	healthMax          = 100
	healthMin          = 0
	healthGain         = 5
	healthPenalty      = 10
	healthyFloor       = 50
	maxHealthyFailures = 3
	failedThreshold    = 5

	janitorInterval = 30 * time.Second
)

// Connection is one EA terminal's live state. Memory-only: a restart drops
// all connections and the terminals re-register on their next poll.
type Connection struct {
	AccountID           int64     `json:"account_id"`
	BrokerName          string    `json:"broker_name"`
	EAVersion           string    `json:"ea_version"`
	State               string    `json:"state"`
	HealthScore         int       `json:"health_score"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConnectedAt         time.Time `json:"connected_at"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
}

// Registry tracks every known EA connection
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*Connection
	pub   Publisher
	log   zerolog.Logger

	heartbeatTimeout time.Duration
	idleTimeout      time.Duration
	now              func() time.Time
}

// Publisher emits bus events; nil disables announcements
type Publisher interface {
	Publish(subject string, evt *bus.Event)
}

func NewRegistry(heartbeatTimeout, idleTimeout time.Duration, pub Publisher, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:            make(map[int64]*Connection),
		pub:              pub,
		log:              logger,
		heartbeatTimeout: heartbeatTimeout,
		idleTimeout:      idleTimeout,
		now:              time.Now,
	}
}

// Register records a fresh connect handshake. A re-connect of a known
// account resets its failure counters.
func (r *Registry) Register(accountID int64, broker, eaVersion string) {
	r.mu.Lock()
	now := r.now()
	conn, existed := r.conns[accountID]
	if !existed {
		conn = &Connection{AccountID: accountID, ConnectedAt: now, HealthScore: healthMax}
		r.conns[accountID] = conn
	}
	conn.BrokerName = broker
	conn.EAVersion = eaVersion
	conn.State = StateConnecting
	conn.ConsecutiveFailures = 0
	conn.LastHeartbeat = now
	count := len(r.conns)
	r.mu.Unlock()

	if existed {
		metrics.RecordReconnect()
	}
	metrics.UpdateConnectedEAs(count)
	r.announce(accountID, StateConnecting)
	r.log.Info().Int64("account_id", accountID).Str("broker", broker).
		Str("ea_version", eaVersion).Msg("EA registered")
}

// Heartbeat marks one successful poll: state CONNECTED, +5 health, failure
// count reset.
func (r *Registry) Heartbeat(accountID int64) {
	r.mu.Lock()
	conn, ok := r.conns[accountID]
	if !ok {
		// A heartbeat without a connect: the server restarted under the EA.
		conn = &Connection{AccountID: accountID, ConnectedAt: r.now(), HealthScore: healthMax}
		r.conns[accountID] = conn
	}
	prevState := conn.State
	conn.State = StateConnected
	conn.LastHeartbeat = r.now()
	conn.ConsecutiveFailures = 0
	conn.HealthScore = min(conn.HealthScore+healthGain, healthMax)
	health := conn.HealthScore
	r.mu.Unlock()

	metrics.RecordHeartbeat()
	metrics.UpdateConnectionHealth(strconv.FormatInt(accountID, 10), health)
	if prevState != StateConnected {
		r.announce(accountID, StateConnected)
	}
}

// Failure records one failed interaction: -10 health, failure count up,
// FAILED at the threshold.
func (r *Registry) Failure(accountID int64) {
	r.mu.Lock()
	conn, ok := r.conns[accountID]
	if !ok {
		r.mu.Unlock()
		return
	}
	conn.ConsecutiveFailures++
	conn.HealthScore = max(conn.HealthScore-healthPenalty, healthMin)
	prevState := conn.State
	if conn.ConsecutiveFailures >= failedThreshold {
		conn.State = StateFailed
	} else if conn.State == StateConnected {
		conn.State = StateReconnecting
	}
	state := conn.State
	health := conn.HealthScore
	r.mu.Unlock()

	metrics.UpdateConnectionHealth(strconv.FormatInt(accountID, 10), health)
	if state != prevState {
		r.announce(accountID, state)
	}
}

// Unregister drops the connection; the account row persists
func (r *Registry) Unregister(accountID int64) {
	r.mu.Lock()
	delete(r.conns, accountID)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.UpdateConnectedEAs(count)
	r.announce(accountID, "DISCONNECTED")
	r.log.Info().Int64("account_id", accountID).Msg("EA unregistered")
}

// Healthy reports whether commands should be routed to this account:
// CONNECTED, a fresh heartbeat, under the failure ceiling, above the health
// floor. Implements the auto-trader's connection gate.
func (r *Registry) Healthy(accountID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[accountID]
	if !ok {
		return false
	}
	return conn.State == StateConnected &&
		r.now().Sub(conn.LastHeartbeat) < r.heartbeatTimeout &&
		conn.ConsecutiveFailures < maxHealthyFailures &&
		conn.HealthScore > healthyFloor
}

// Snapshot returns a copy of every connection for the ops surface
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	return out
}

// Run is the janitor loop: demote connections with stale heartbeats, evict
// the long-idle ones.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := r.now()
	var demoted, evicted []int64

	r.mu.Lock()
	for id, conn := range r.conns {
		idle := now.Sub(conn.LastHeartbeat)
		if r.idleTimeout > 0 && idle > r.idleTimeout {
			delete(r.conns, id)
			evicted = append(evicted, id)
			continue
		}
		if conn.State == StateConnected && idle > r.heartbeatTimeout {
			conn.State = StateReconnecting
			demoted = append(demoted, id)
		} else if conn.State == StateReconnecting && idle > 3*r.heartbeatTimeout {
			conn.State = StateFailed
			demoted = append(demoted, id)
		}
	}
	count := len(r.conns)
	r.mu.Unlock()

	metrics.UpdateConnectedEAs(count)
	for _, id := range demoted {
		r.log.Warn().Int64("account_id", id).Msg("Connection demoted, heartbeat stale")
		r.announce(id, r.stateOf(id))
	}
	for _, id := range evicted {
		r.log.Info().Int64("account_id", id).Msg("Idle connection evicted")
		r.announce(id, "DISCONNECTED")
	}
}

func (r *Registry) stateOf(accountID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[accountID]; ok {
		return conn.State
	}
	return "DISCONNECTED"
}

func (r *Registry) announce(accountID int64, state string) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(bus.SubjectConnectionChanged, &bus.Event{
		AccountID: accountID,
		Payload:   map[string]interface{}{"state": state},
	})
}
