// Package market maintains the in-memory registry of venue markets and their
// live context for the dashboard session.
package market

import (
	"sort"
	"sync"

	"github.com/perpscope/perpscope/internal/schema"
)

// fallbackCoins keeps the trade feed alive when the registry has not been
// populated yet (startup race against the meta fetch).
var fallbackCoins = []string{"BTC", "ETH", "SOL", "HYPE"}

// Entry pairs a universe market with its most recent live context.
type Entry struct {
	Market schema.Market
	Ctx    schema.AssetCtx
	HasCtx bool
}

// Registry is the owned state object holding the known market universe.
// All access is serialized internally; a zero registry is not usable, construct
// via New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		order:   nil,
	}
}

// Reset clears all registry state.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
	r.order = nil
}

// SetUniverse replaces the market universe, preserving any live context for
// markets that remain listed. Delisted markets are retained but flagged, so the
// dashboard can grey them out rather than dropping their history.
func (r *Registry) SetUniverse(markets []schema.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Entry, len(markets))
	order := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.Name == "" {
			continue
		}
		if _, dup := next[m.Name]; dup {
			continue
		}
		entry := Entry{Market: m, Ctx: schema.AssetCtx{}, HasCtx: false}
		if prev, ok := r.entries[m.Name]; ok {
			entry.Ctx = prev.Ctx
			entry.HasCtx = prev.HasCtx
		}
		next[m.Name] = entry
		order = append(order, m.Name)
	}
	r.entries = next
	r.order = order
}

// UpdateCtxs applies live contexts positionally, matching the venue's parallel
// universe/ctx arrays. Extra contexts beyond the universe are dropped.
func (r *Registry) UpdateCtxs(ctxs []schema.AssetCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, ctx := range ctxs {
		if i >= len(r.order) {
			return
		}
		name := r.order[i]
		entry := r.entries[name]
		entry.Ctx = ctx
		entry.HasCtx = true
		r.entries[name] = entry
	}
}

// Coins returns the names of all listed (non-delisted) markets in universe order.
func (r *Registry) Coins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coins := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if entry, ok := r.entries[name]; ok && !entry.Market.IsDelisted {
			coins = append(coins, name)
		}
	}
	return coins
}

// CoinsOrFallback returns the known coin list, or the fixed well-known set when
// the registry has not been populated yet.
func (r *Registry) CoinsOrFallback() []string {
	coins := r.Coins()
	if len(coins) > 0 {
		return coins
	}
	out := make([]string, len(fallbackCoins))
	copy(out, fallbackCoins)
	return out
}

// Len reports the number of known markets, including delisted ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns the entry for a market.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Snapshot returns all entries sorted by market name.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market.Name < out[j].Market.Name })
	return out
}
