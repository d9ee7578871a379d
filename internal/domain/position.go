package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonMaxHold    ExitReason = "max_hold"
	ExitReasonExplicit   ExitReason = "explicit"
	ExitReasonLegRisk    ExitReason = "leg_risk_hedge"
)

// Position is an agent's per-token holding, per spec.md §3.
type Position struct {
	ID            string
	Agent         string
	TokenID       string
	Direction     OrderSide
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	Size          decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	StopLoss      *decimal.Decimal
	MaxHold       *time.Duration
	Status        PositionStatus
	Strategy      string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *decimal.Decimal
	ExitReason    ExitReason
}

// MarkToMarket returns the unrealized PnL at the given current price,
// accounting for position direction, without mutating the receiver.
func (p Position) MarkToMarket(currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(p.EntryPrice)
	if p.Direction == OrderSideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// StopLossBreached reports whether the current price has crossed the
// configured stop-loss level for this position's direction.
func (p Position) StopLossBreached(currentPrice decimal.Decimal) bool {
	if p.StopLoss == nil {
		return false
	}
	switch p.Direction {
	case OrderSideBuy:
		return currentPrice.LessThanOrEqual(*p.StopLoss)
	case OrderSideSell:
		return currentPrice.GreaterThanOrEqual(*p.StopLoss)
	default:
		return false
	}
}

// MaxHoldExceeded reports whether the position has been open longer than
// its configured maximum hold duration, as of now.
func (p Position) MaxHoldExceeded(now time.Time) bool {
	if p.MaxHold == nil {
		return false
	}
	return now.Sub(p.OpenedAt) > *p.MaxHold
}
