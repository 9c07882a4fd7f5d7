// Package feed keeps the in-session trade tape and the live price table that
// back the dashboard's scrolling feed and market cards. Nothing here persists
// across restarts.
package feed

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/internal/schema"
)

const defaultCapacity = 256

// Feed is a bounded ring of the most recent trades plus a last-price table.
// Safe for concurrent use; the stream's read goroutine writes while HTTP
// handlers read.
type Feed struct {
	mu       sync.RWMutex
	trades   []schema.Trade
	next     int
	full     bool
	lastPx   map[string]decimal.Decimal
	capacity int
}

// New returns a feed retaining at most capacity trades. Non-positive
// capacities fall back to the default.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Feed{
		trades:   make([]schema.Trade, capacity),
		lastPx:   make(map[string]decimal.Decimal),
		capacity: capacity,
	}
}

// RecordTrade appends one trade, evicting the oldest when full, and updates
// the coin's last price.
func (f *Feed) RecordTrade(trade schema.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.trades[f.next] = trade
	f.next++
	if f.next == f.capacity {
		f.next = 0
		f.full = true
	}
	f.lastPx[trade.Coin] = trade.Px
}

// UpdateMids refreshes the price table from a venue-wide mids snapshot. Mids
// overwrite trade prices; both sources feed the same table.
func (f *Feed) UpdateMids(mids map[string]decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for coin, px := range mids {
		f.lastPx[coin] = px
	}
}

// Recent returns up to limit trades, newest first. A non-positive limit means
// everything retained.
func (f *Feed) Recent(limit int) []schema.Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()

	size := f.next
	if f.full {
		size = f.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]schema.Trade, 0, limit)
	for i := 0; i < limit; i++ {
		idx := f.next - 1 - i
		if idx < 0 {
			idx += f.capacity
		}
		out = append(out, f.trades[idx])
	}
	return out
}

// LastPrice returns the most recent price seen for the coin.
func (f *Feed) LastPrice(coin string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.lastPx[coin]
	return px, ok
}

// Prices returns a copy of the full price table.
func (f *Feed) Prices() map[string]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(f.lastPx))
	for coin, px := range f.lastPx {
		out[coin] = px
	}
	return out
}

// Len reports how many trades are currently retained.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.full {
		return f.capacity
	}
	return f.next
}
