package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbExecStatus is the pure-arbitrage two-leg execution state, mirroring
// the ArbitrageAgent state machine in spec.md §4.7.
type ArbExecStatus string

const (
	ArbExecIdle      ArbExecStatus = "idle"
	ArbExecClaim     ArbExecStatus = "claim"
	ArbExecReserve   ArbExecStatus = "reserve"
	ArbExecPlaceA    ArbExecStatus = "place_a"
	ArbExecPlaceB    ArbExecStatus = "place_b"
	ArbExecSettled   ArbExecStatus = "settled"
	ArbExecAbort     ArbExecStatus = "abort"
)

// ArbExecution records one pure-arbitrage two-leg execution and its PnL.
type ArbExecution struct {
	ID            string
	OpportunityID string
	LegGroupID    string
	Legs          []ArbLeg
	ReservationID string
	Status        ArbExecStatus
	RealizedPnL   decimal.Decimal
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// ArbLeg is one leg (YES or NO) of a pure-arbitrage execution.
type ArbLeg struct {
	TokenID       string
	Side          OrderSide
	OrderID       string
	ExpectedPrice decimal.Decimal
	FilledPrice   decimal.Decimal
	Size          decimal.Decimal
	Status        OrderStatus
	Hedged        bool // true when this leg was closed at market to bound leg risk
}

// FilledSize returns the size actually filled for this leg.
func (l ArbLeg) FilledSize() decimal.Decimal {
	if l.Status == OrderStatusFilled || l.Status == OrderStatusPartial {
		return l.Size
	}
	return decimal.Zero
}
