package risk

import (
	"strings"
	"sync"
	"time"
)

// PauseRegistry tracks temporary trading pauses by symbol and by currency.
// The SL-hit guard pauses symbols, the news worker pauses currencies; the
// auto-trade gate asks Paused before emitting. Expired entries are pruned
// lazily on lookup.
type PauseRegistry struct {
	mu         sync.Mutex
	symbols    map[string]pauseEntry
	currencies map[string]pauseEntry
	now        func() time.Time
}

type pauseEntry struct {
	until  time.Time
	reason string
}

func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{
		symbols:    make(map[string]pauseEntry),
		currencies: make(map[string]pauseEntry),
		now:        time.Now,
	}
}

// PauseSymbol blocks one symbol until the deadline. A later deadline
// extends an existing pause; an earlier one is ignored.
func (r *PauseRegistry) PauseSymbol(symbol string, until time.Time, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToUpper(symbol)
	if existing, ok := r.symbols[key]; ok && existing.until.After(until) {
		return
	}
	r.symbols[key] = pauseEntry{until: until, reason: reason}
}

// PauseCurrency blocks every symbol containing the currency code
func (r *PauseRegistry) PauseCurrency(currency string, until time.Time, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToUpper(currency)
	if existing, ok := r.currencies[key]; ok && existing.until.After(until) {
		return
	}
	r.currencies[key] = pauseEntry{until: until, reason: reason}
}

// Paused reports whether a symbol is currently blocked and why
func (r *PauseRegistry) Paused(symbol string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	upper := strings.ToUpper(symbol)

	if entry, ok := r.symbols[upper]; ok {
		if now.Before(entry.until) {
			return true, entry.reason
		}
		delete(r.symbols, upper)
	}
	for currency, entry := range r.currencies {
		if !now.Before(entry.until) {
			delete(r.currencies, currency)
			continue
		}
		if strings.Contains(upper, currency) {
			return true, entry.reason
		}
	}
	return false, ""
}
