package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one side of an order book or an order.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+aggregated-size entry in an order book. All
// arithmetic that determines arbitrage profitability is done in decimal —
// float64 never appears on that path (spec.md §3/§9).
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderbookSnapshot is a full snapshot of bids and asks for one asset, as
// delivered by a "book" event on the market-data feed.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	Timestamp time.Time
}

// PriceChange is an incremental order-book level update ("price_change").
// A Size of zero removes the level.
type PriceChange struct {
	AssetID   string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}

// Quote bundles the current best-price view of one asset for strategy and
// risk evaluation. It is the decimal-native counterpart of a MARKET_STATE
// signal payload.
type Quote struct {
	AssetID  string
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
	Mid      decimal.Decimal
	HasBid   bool
	HasAsk   bool
	Time     time.Time
}
