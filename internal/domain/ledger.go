package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationPriority is the tier under which a reservation was requested,
// determining which pools of capital BudgetManager is allowed to draw from
// (spec.md §4.5).
type ReservationPriority string

const (
	ReservationNormal   ReservationPriority = "normal"
	ReservationHigh     ReservationPriority = "high"
	ReservationCritical ReservationPriority = "critical"
)

// Balance is one strategy's entry in balance[strategy] of the CapitalLedger.
type Balance struct {
	Strategy  string
	Available decimal.Decimal
	Reserved  decimal.Decimal
	UpdatedAt time.Time
}

// Total is the strategy's full allocation: available plus whatever is
// currently held by outstanding reservations.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

// Reservation is one entry in reservation[reservation_id] of the
// CapitalLedger: a hold against capital pending settlement.
type Reservation struct {
	ID       string
	Strategy string
	Agent    string
	Amount   decimal.Decimal
	Priority ReservationPriority

	// DrawnFromStrategy is the portion of Amount drawn from the requesting
	// strategy's own available balance.
	DrawnFromStrategy decimal.Decimal
	// DrawsFromReserve is the portion of Amount drawn from the shared
	// reserve pool, non-zero only for HIGH/CRITICAL priority requests that
	// exceeded the strategy's own available balance.
	DrawsFromReserve decimal.Decimal

	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the reservation's TTL has elapsed as of now,
// making it eligible for reclamation by the janitor.
func (r Reservation) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > r.TTL
}

// NonceRecord is one entry in nonce[wallet_address] of the CapitalLedger:
// the next nonce to hand out for a wallet's on-chain submissions.
type NonceRecord struct {
	WalletAddress string
	Next          uint64
	UpdatedAt     time.Time
}

// Metric is one strategy's entry in metric[strategy]: running counters the
// RiskController and operators read, independent of the reservation flow.
type Metric struct {
	Strategy        string
	ReservationsOK  int64
	ReservationsDenied int64
	RealizedPnL     decimal.Decimal
	UpdatedAt       time.Time
}
