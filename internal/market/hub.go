package market

import (
	"sync"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// TickHandler consumes live ticks. Handlers run on the ingestion goroutine
// and must not block; anything slow belongs behind the handler's own channel.
type TickHandler func(tick *db.Tick)

// TickHub fans incoming ticks out to in-process subscribers (signal engine
// throttle, position monitor, spread stats) without coupling them to the
// ingestion handler.
type TickHub struct {
	mu       sync.RWMutex
	handlers []TickHandler
}

// NewTickHub creates an empty hub
func NewTickHub() *TickHub {
	return &TickHub{}
}

// Subscribe registers a handler for every future tick
func (h *TickHub) Subscribe(handler TickHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

// Publish delivers one tick to all subscribers
func (h *TickHub) Publish(tick *db.Tick) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(tick)
	}
}
