// Package orderbook implements the OrderBookReplica of spec.md §4.2: a
// per-asset, decimal-keyed mirror of one market's live bid/ask levels,
// maintained from a snapshot-then-delta feed. All price and size
// comparisons are decimal; float64 never appears on this path.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// Replica is one asset's order-book mirror. It is safe for concurrent use;
// callers typically own one Replica per watched asset and feed it from a
// single MarketDataStream goroutine while agents read it from others.
type Replica struct {
	mu        sync.RWMutex
	assetID   string
	bids      map[string]decimal.Decimal // price string -> size
	asks      map[string]decimal.Decimal
	timestamp time.Time
	hasSnap   bool
}

// New creates an empty Replica for assetID. It has no usable data until
// ApplySnapshot is called.
func New(assetID string) *Replica {
	return &Replica{
		assetID: assetID,
		bids:    make(map[string]decimal.Decimal),
		asks:    make(map[string]decimal.Decimal),
	}
}

// AssetID returns the asset this replica mirrors.
func (r *Replica) AssetID() string { return r.assetID }

// ApplySnapshot replaces the entire book state with snap. It is always
// authoritative: any delta applied before the matching snapshot, or any
// state carried from before a resync, is discarded.
func (r *Replica) ApplySnapshot(snap domain.OrderbookSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = make(map[string]decimal.Decimal, len(snap.Bids))
	r.asks = make(map[string]decimal.Decimal, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Size.IsPositive() {
			r.bids[lvl.Price.String()] = lvl.Size
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size.IsPositive() {
			r.asks[lvl.Price.String()] = lvl.Size
		}
	}
	r.timestamp = snap.Timestamp
	r.hasSnap = true
}

// ApplyDelta applies one incremental level update. A Size of zero removes
// the level. Applying the same delta twice (idempotence) leaves the book
// in the same state as applying it once. ApplyDelta is a no-op until a
// snapshot has been applied at least once.
func (r *Replica) ApplyDelta(change domain.PriceChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasSnap {
		return
	}

	side := r.bids
	if change.Side == domain.SideAsk {
		side = r.asks
	}
	key := change.Price.String()
	if change.Size.IsZero() || change.Size.IsNegative() {
		delete(side, key)
	} else {
		side[key] = change.Size
	}
	if change.Timestamp.After(r.timestamp) {
		r.timestamp = change.Timestamp
	}
}

// Ready reports whether at least one snapshot has been applied.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasSnap
}

// BestBid returns the highest bid price level, if any.
func (r *Replica) BestBid() (domain.PriceLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return bestOf(r.bids, true)
}

// BestAsk returns the lowest ask price level, if any.
func (r *Replica) BestAsk() (domain.PriceLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return bestOf(r.asks, false)
}

func bestOf(side map[string]decimal.Decimal, highest bool) (domain.PriceLevel, bool) {
	if len(side) == 0 {
		return domain.PriceLevel{}, false
	}
	var best decimal.Decimal
	var bestSize decimal.Decimal
	first := true
	for priceStr, size := range side {
		p, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		if first || (highest && p.GreaterThan(best)) || (!highest && p.LessThan(best)) {
			best = p
			bestSize = size
			first = false
		}
	}
	if first {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: best, Size: bestSize}, true
}

// Mid returns the midpoint of best bid and best ask. It is only valid
// (ok=true) when both sides are present, preserving the best_bid <
// best_ask invariant the caller can check separately via Quote.
func (r *Replica) Mid() (decimal.Decimal, bool) {
	bid, bok := r.BestBid()
	ask, aok := r.BestAsk()
	if !bok || !aok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Quote builds the decimal Quote view used by risk and arbitrage
// evaluation.
func (r *Replica) Quote() domain.Quote {
	bid, bok := r.BestBid()
	ask, aok := r.BestAsk()
	q := domain.Quote{AssetID: r.assetID, HasBid: bok, HasAsk: aok, Time: r.Timestamp()}
	if bok {
		q.BestBid = bid.Price
	}
	if aok {
		q.BestAsk = ask.Price
	}
	if bok && aok {
		q.Mid = bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
	}
	return q
}

// Timestamp returns the time of the most recent snapshot or delta applied.
func (r *Replica) Timestamp() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timestamp
}

// Depth returns up to n price levels per side, sorted best-first
// (descending bids, ascending asks), for MARKET_STATE depth sampling.
func (r *Replica) Depth(n int) (bids, asks []domain.PriceLevel) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bids = sortedLevels(r.bids, true, n)
	asks = sortedLevels(r.asks, false, n)
	return bids, asks
}

func sortedLevels(side map[string]decimal.Decimal, highestFirst bool, n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(side))
	for priceStr, size := range side {
		p, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if highestFirst {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Invariant reports whether the book currently satisfies best_bid <
// best_ask. An empty or one-sided book trivially satisfies it.
func (r *Replica) Invariant() bool {
	bid, bok := r.BestBid()
	ask, aok := r.BestAsk()
	if !bok || !aok {
		return true
	}
	return bid.Price.LessThan(ask.Price)
}

// Snapshot returns the current state as a domain.OrderbookSnapshot,
// primarily for testing snapshot-equivalence (P7): re-applying the
// returned snapshot to a fresh Replica must reproduce the same best
// bid/ask.
func (r *Replica) Snapshot() domain.OrderbookSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bids := sortedLevels(r.bids, true, 0)
	asks := sortedLevels(r.asks, false, 0)
	return domain.OrderbookSnapshot{AssetID: r.assetID, Bids: bids, Asks: asks, Timestamp: r.timestamp}
}
