package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// TickStore is the persistence surface the batcher flushes into
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []db.Tick) error
}

// ring is a bounded per-symbol buffer. Overflow drops the oldest tick so the
// buffer always holds the freshest market view.
type ring struct {
	buf     []db.Tick
	dropped int
}

func (r *ring) add(t db.Tick, capacity int) {
	if len(r.buf) >= capacity {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
		r.dropped++
	}
	r.buf = append(r.buf, t)
}

// Batcher buffers incoming ticks per symbol and drains them to storage every
// flush interval or once the pending count crosses the threshold. Heartbeats,
// commands and trade events never pass through here; only ticks are allowed
// to drop, and drops are counted.
type Batcher struct {
	store         TickStore
	hub           *TickHub
	ringCapacity  int
	flushInterval time.Duration
	threshold     int
	log           zerolog.Logger

	mu      sync.Mutex
	rings   map[string]*ring
	pending int
	kick    chan struct{}
}

// NewBatcher creates a tick batcher. Zero values fall back to a 1s interval,
// a 1000-tick threshold and 2048-tick rings.
func NewBatcher(store TickStore, hub *TickHub, ringCapacity int, flushInterval time.Duration, threshold int, logger zerolog.Logger) *Batcher {
	if ringCapacity <= 0 {
		ringCapacity = 2048
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if threshold <= 0 {
		threshold = 1000
	}
	return &Batcher{
		store:         store,
		hub:           hub,
		ringCapacity:  ringCapacity,
		flushInterval: flushInterval,
		threshold:     threshold,
		log:           logger,
		rings:         make(map[string]*ring),
		kick:          make(chan struct{}, 1),
	}
}

// Add ingests a batch of ticks: buffers them for the flusher and fans them
// out to live subscribers.
func (b *Batcher) Add(ticks []db.Tick) {
	if len(ticks) == 0 {
		return
	}

	b.mu.Lock()
	for i := range ticks {
		r, ok := b.rings[ticks[i].Symbol]
		if !ok {
			r = &ring{}
			b.rings[ticks[i].Symbol] = r
		}
		before := len(r.buf)
		r.add(ticks[i], b.ringCapacity)
		b.pending += len(r.buf) - before
	}
	overThreshold := b.pending >= b.threshold
	b.mu.Unlock()

	if b.hub != nil {
		for i := range ticks {
			b.hub.Publish(&ticks[i])
		}
	}

	if overThreshold {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Run drives the flusher until the context ends, then performs a final flush
// so shutdown loses nothing that was buffered.
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.kick:
			b.Flush(ctx)
		}
	}
}

// Flush drains all rings into one storage batch
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.pending == 0 && len(b.rings) == 0 {
		b.mu.Unlock()
		return
	}

	batch := make([]db.Tick, 0, b.pending)
	counts := make(map[string]int, len(b.rings))
	dropped := 0
	for symbol, r := range b.rings {
		if len(r.buf) > 0 {
			batch = append(batch, r.buf...)
			counts[symbol] = len(r.buf)
		}
		dropped += r.dropped
	}
	b.rings = make(map[string]*ring)
	b.pending = 0
	b.mu.Unlock()

	if dropped > 0 {
		metrics.RecordTicksDropped("overflow", dropped)
		b.log.Warn().Int("dropped", dropped).Msg("Tick ring overflow")
	}
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	if err := b.store.InsertTicks(ctx, batch); err != nil {
		// The batch is lost; ticks are reconstructible market data, so log
		// and count rather than retry into a backlog.
		metrics.RecordTicksDropped("flush_error", len(batch))
		b.log.Error().Err(err).Int("ticks", len(batch)).Msg("Tick flush failed")
		return
	}

	metrics.RecordTickBatch(counts)
	metrics.RecordTickFlush(float64(time.Since(start).Milliseconds()))
	b.log.Debug().Int("ticks", len(batch)).Int("symbols", len(counts)).Msg("Ticks flushed")
}

// Pending returns the buffered tick count, used by tests and health output
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}
