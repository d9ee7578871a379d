// Package budget implements the BudgetManager of spec.md §4.5: the sole
// gate between an agent's trading decision and capital actually moving. It
// sits on top of the CapitalLedger (internal/ledger) and adds the
// priority-tiered reservation rules and wallet nonce issuance agents call
// directly.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/ledger"
)

const reservePoolStrategy = "__reserve__"

// DefaultReservationTTL bounds how long a granted reservation may go
// unsettled before the Janitor reclaims it.
const DefaultReservationTTL = 60 * time.Second

// Manager is the BudgetManager.
type Manager struct {
	ledger *ledger.Ledger
	locks  domain.LockManager
}

// New creates a Manager over the given Ledger and lock manager.
func New(l *ledger.Ledger, locks domain.LockManager) *Manager {
	return &Manager{ledger: l, locks: locks}
}

// ReservationRequest is the input to RequestReservation.
type ReservationRequest struct {
	Strategy string
	Agent    string
	Amount   decimal.Decimal
	Priority domain.ReservationPriority
	TTL      time.Duration // zero means DefaultReservationTTL
}

// RequestReservation holds Amount of capital against req.Strategy's balance,
// drawing from the shared reserve pool for HIGH/CRITICAL requests that
// exceed the strategy's own available balance. It returns
// domain.ErrCapitalDenied if no combination of strategy + reserve capital
// can cover the request; callers MUST treat that as "do not trade".
func (m *Manager) RequestReservation(ctx context.Context, req ReservationRequest) (domain.Reservation, error) {
	if req.Amount.IsZero() || req.Amount.IsNegative() {
		return domain.Reservation{}, fmt.Errorf("budget: reservation amount must be positive, got %s", req.Amount)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}

	unlock, err := m.locks.Acquire(ctx, "budget:lock", 5*time.Second)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer unlock()

	bal, ok, err := m.ledger.GetBalance(ctx, req.Strategy)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !ok {
		bal = domain.Balance{Strategy: req.Strategy}
	}

	fromStrategy := req.Amount
	fromReserve := decimal.Zero
	if bal.Available.LessThan(req.Amount) {
		fromStrategy = bal.Available
		shortfall := req.Amount.Sub(bal.Available)

		if req.Priority == domain.ReservationNormal {
			return domain.Reservation{}, domain.ErrCapitalDenied
		}

		reserveBal, rok, err := m.ledger.GetBalance(ctx, reservePoolStrategy)
		if err != nil {
			return domain.Reservation{}, err
		}
		if !rok || reserveBal.Available.LessThan(shortfall) {
			return domain.Reservation{}, domain.ErrCapitalDenied
		}
		fromReserve = shortfall

		reserveBal.Available = reserveBal.Available.Sub(shortfall)
		reserveBal.Reserved = reserveBal.Reserved.Add(shortfall)
		reserveBal.UpdatedAt = time.Now().UTC()
		if err := m.ledger.PutBalance(ctx, reserveBal); err != nil {
			return domain.Reservation{}, err
		}
	}

	bal.Available = bal.Available.Sub(fromStrategy)
	bal.Reserved = bal.Reserved.Add(fromStrategy)
	bal.UpdatedAt = time.Now().UTC()
	if err := m.ledger.PutBalance(ctx, bal); err != nil {
		return domain.Reservation{}, err
	}

	res := domain.Reservation{
		ID:                ledger.NewReservationID(),
		Strategy:          req.Strategy,
		Agent:             req.Agent,
		Amount:            req.Amount,
		Priority:          req.Priority,
		DrawnFromStrategy: fromStrategy,
		DrawsFromReserve:  fromReserve,
		CreatedAt:         time.Now().UTC(),
		TTL:               ttl,
	}
	if err := m.ledger.PutReservation(ctx, res); err != nil {
		return domain.Reservation{}, err
	}
	if err := m.ledger.BumpMetric(ctx, req.Strategy, 1, 0, decimal.Zero); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// ReleaseReservation returns a reservation's held capital and records
// realizedPnL against the owning strategy's metric. It is idempotent: an
// already-released or unknown reservation id is a no-op returning
// domain.ErrReservationNotFound.
func (m *Manager) ReleaseReservation(ctx context.Context, reservationID string, realizedPnL decimal.Decimal) error {
	unlock, err := m.locks.Acquire(ctx, "budget:lock", 5*time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	r, ok, err := m.ledger.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrReservationNotFound
	}

	if r.DrawnFromStrategy.IsPositive() {
		bal, bok, err := m.ledger.GetBalance(ctx, r.Strategy)
		if err != nil {
			return err
		}
		if bok {
			bal.Reserved = bal.Reserved.Sub(r.DrawnFromStrategy)
			if bal.Reserved.IsNegative() {
				bal.Reserved = decimal.Zero
			}
			bal.Available = bal.Available.Add(r.DrawnFromStrategy).Add(realizedPnL)
			bal.UpdatedAt = time.Now().UTC()
			if err := m.ledger.PutBalance(ctx, bal); err != nil {
				return err
			}
		}
	}
	if r.DrawsFromReserve.IsPositive() {
		rbal, rok, err := m.ledger.GetBalance(ctx, reservePoolStrategy)
		if err != nil {
			return err
		}
		if rok {
			rbal.Reserved = rbal.Reserved.Sub(r.DrawsFromReserve)
			if rbal.Reserved.IsNegative() {
				rbal.Reserved = decimal.Zero
			}
			rbal.Available = rbal.Available.Add(r.DrawsFromReserve)
			rbal.UpdatedAt = time.Now().UTC()
			if err := m.ledger.PutBalance(ctx, rbal); err != nil {
				return err
			}
		}
	}

	if err := m.ledger.DeleteReservation(ctx, reservationID); err != nil {
		return err
	}
	return m.ledger.BumpMetric(ctx, r.Strategy, 0, 0, realizedPnL)
}

// NextNonce returns the next on-chain nonce for wallet, normalizing the
// address to its canonical checksummed form so callers can never fragment
// one wallet's sequence across two key spellings.
func (m *Manager) NextNonce(ctx context.Context, wallet string) (uint64, error) {
	if !common.IsHexAddress(wallet) {
		return 0, fmt.Errorf("budget: %q is not a valid wallet address", wallet)
	}
	canonical := common.HexToAddress(wallet).Hex()
	return m.ledger.NextNonce(ctx, canonical)
}

// Snapshot is a point-in-time view of a strategy's budget state, per
// spec.md §4.5's `snapshot` operation.
type Snapshot struct {
	Strategy  string
	Balance   domain.Balance
	Metric    domain.Metric
}

// Snapshot returns the current balance and metric counters for strategy.
func (m *Manager) Snapshot(ctx context.Context, strategy string) (Snapshot, error) {
	bal, _, err := m.ledger.GetBalance(ctx, strategy)
	if err != nil {
		return Snapshot{}, err
	}
	metric, err := m.ledger.GetMetric(ctx, strategy)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Strategy: strategy, Balance: bal, Metric: metric}, nil
}

// SeedReserve bootstraps the shared reserve pool's available balance.
func (m *Manager) SeedReserve(ctx context.Context, amount decimal.Decimal) error {
	return m.ledger.Seed(ctx, reservePoolStrategy, amount)
}
