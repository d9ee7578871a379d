// Package ledger implements the CapitalLedger of spec.md §4.4: a durable,
// KV-store-backed record of per-strategy balances, in-flight reservations,
// per-wallet nonces, and per-strategy metrics. Records are read and written
// with plain Get/Set on the underlying domain.KVStore; consistency across
// processes sharing one store relies on the `budget:lock` and
// `nonce:<wallet>:lock` named locks held around each read-modify-write.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

const (
	balanceKeyPrefix     = "balance:"
	reservationKeyPrefix = "reservation:"
	nonceKeyPrefix       = "nonce:"
	metricKeyPrefix      = "metric:"

	maxCASRetries = 8
)

func balanceKey(strategy string) string     { return balanceKeyPrefix + strategy }
func reservationKey(id string) string       { return reservationKeyPrefix + id }
func nonceKey(wallet string) string         { return nonceKeyPrefix + wallet }
func metricKey(strategy string) string      { return metricKeyPrefix + strategy }

// Ledger is the CapitalLedger: durable balance, reservation, nonce, and
// metric state persisted in a shared domain.KVStore.
type Ledger struct {
	store domain.KVStore
	locks domain.LockManager
}

// New creates a Ledger over the given store and lock manager. locks is used
// for the `budget:lock` and `nonce:<wallet>:lock` critical sections of
// spec.md §5/§6.4.
func New(store domain.KVStore, locks domain.LockManager) *Ledger {
	return &Ledger{store: store, locks: locks}
}

// Seed writes an initial balance for strategy if one does not already
// exist. It is idempotent and intended for startup allocation bootstrap.
func (l *Ledger) Seed(ctx context.Context, strategy string, available decimal.Decimal) error {
	_, ok, err := l.GetBalance(ctx, strategy)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	b := domain.Balance{Strategy: strategy, Available: available, UpdatedAt: time.Now().UTC()}
	return l.PutBalance(ctx, b)
}

// GetBalance reads strategy's current balance.
func (l *Ledger) GetBalance(ctx context.Context, strategy string) (domain.Balance, bool, error) {
	raw, ok, err := l.store.Get(ctx, balanceKey(strategy))
	if err != nil {
		return domain.Balance{}, false, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return domain.Balance{}, false, nil
	}
	var b balanceWire
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return domain.Balance{}, false, fmt.Errorf("ledger: decode balance %s: %w", strategy, err)
	}
	return b.toDomain(strategy), true, nil
}

func (l *Ledger) PutBalance(ctx context.Context, b domain.Balance) error {
	raw, err := json.Marshal(fromDomainBalance(b))
	if err != nil {
		return fmt.Errorf("ledger: encode balance %s: %w", b.Strategy, err)
	}
	if err := l.store.Set(ctx, balanceKey(b.Strategy), string(raw)); err != nil {
		return fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// PutReservation persists a reservation. Callers hold budget:lock while
// calling this so balance and reservation writes stay consistent.
func (l *Ledger) PutReservation(ctx context.Context, r domain.Reservation) error {
	raw, err := json.Marshal(fromDomainReservation(r))
	if err != nil {
		return fmt.Errorf("ledger: encode reservation %s: %w", r.ID, err)
	}
	if err := l.store.Set(ctx, reservationKey(r.ID), string(raw)); err != nil {
		return fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetReservation reads a reservation by id.
func (l *Ledger) GetReservation(ctx context.Context, id string) (domain.Reservation, bool, error) {
	raw, ok, err := l.store.Get(ctx, reservationKey(id))
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return domain.Reservation{}, false, nil
	}
	var r reservationWire
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("ledger: decode reservation %s: %w", id, err)
	}
	return r.toDomain(id), true, nil
}

// DeleteReservation removes a reservation record after release or
// reclamation.
func (l *Ledger) DeleteReservation(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, reservationKey(id)); err != nil {
		return fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ReservationIDs lists all outstanding reservation ids, used by the janitor.
func (l *Ledger) ReservationIDs(ctx context.Context) ([]string, error) {
	keys, err := l.store.Keys(ctx, reservationKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(reservationKeyPrefix):])
	}
	return ids, nil
}

// NextNonce atomically reserves and returns the next nonce for wallet,
// serialized under `nonce:<wallet>:lock`. Nonces are monotonically
// increasing and never reused (P2).
func (l *Ledger) NextNonce(ctx context.Context, wallet string) (uint64, error) {
	unlock, err := l.locks.Acquire(ctx, "nonce:"+wallet+":lock", 10*time.Second)
	if err != nil {
		return 0, err
	}
	defer unlock()

	raw, ok, err := l.store.Get(ctx, nonceKey(wallet))
	if err != nil {
		return 0, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	var next uint64
	if ok {
		var rec nonceWire
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return 0, fmt.Errorf("ledger: decode nonce %s: %w", wallet, err)
		}
		next = rec.Next
	}
	assigned := next
	rec := nonceWire{Next: next + 1, UpdatedAt: time.Now().UTC()}
	out, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode nonce %s: %w", wallet, err)
	}
	if err := l.store.Set(ctx, nonceKey(wallet), string(out)); err != nil {
		return 0, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return assigned, nil
}

// BumpMetric applies a metric delta for strategy, creating the record if
// absent.
func (l *Ledger) BumpMetric(ctx context.Context, strategy string, okDelta, deniedDelta int64, pnlDelta decimal.Decimal) error {
	raw, ok, err := l.store.Get(ctx, metricKey(strategy))
	if err != nil {
		return fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	var m domain.Metric
	if ok {
		var w metricWire
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return fmt.Errorf("ledger: decode metric %s: %w", strategy, err)
		}
		m = w.toDomain(strategy)
	}
	m.ReservationsOK += okDelta
	m.ReservationsDenied += deniedDelta
	m.RealizedPnL = m.RealizedPnL.Add(pnlDelta)
	m.UpdatedAt = time.Now().UTC()

	out, err := json.Marshal(fromDomainMetric(m))
	if err != nil {
		return fmt.Errorf("ledger: encode metric %s: %w", strategy, err)
	}
	return l.store.Set(ctx, metricKey(strategy), string(out))
}

// GetMetric reads strategy's running metric counters.
func (l *Ledger) GetMetric(ctx context.Context, strategy string) (domain.Metric, error) {
	raw, ok, err := l.store.Get(ctx, metricKey(strategy))
	if err != nil {
		return domain.Metric{}, fmt.Errorf("ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return domain.Metric{Strategy: strategy}, nil
	}
	var w metricWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return domain.Metric{}, fmt.Errorf("ledger: decode metric %s: %w", strategy, err)
	}
	return w.toDomain(strategy), nil
}

// NewReservationID mints a fresh reservation identifier.
func NewReservationID() string { return uuid.New().String() }

const reservePoolStrategy = "__reserve__"

// reclaim returns a reservation's held capital to its strategy's (and, if
// applicable, the reserve pool's) available balance, then deletes the
// reservation record. It is only ever called by the Janitor, for expired
// reservations; BudgetManager.ReleaseReservation does its own accounting.
func (l *Ledger) reclaim(ctx context.Context, r domain.Reservation) error {
	unlock, err := l.locks.Acquire(ctx, "budget:lock", 5*time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	if r.DrawnFromStrategy.IsPositive() {
		b, ok, err := l.GetBalance(ctx, r.Strategy)
		if err != nil {
			return err
		}
		if ok {
			b.Available = b.Available.Add(r.DrawnFromStrategy)
			b.Reserved = b.Reserved.Sub(r.DrawnFromStrategy)
			if b.Reserved.IsNegative() {
				b.Reserved = decimal.Zero
			}
			b.UpdatedAt = time.Now().UTC()
			if err := l.PutBalance(ctx, b); err != nil {
				return err
			}
		}
	}
	if r.DrawsFromReserve.IsPositive() {
		rb, ok, err := l.GetBalance(ctx, reservePoolStrategy)
		if err != nil {
			return err
		}
		if ok {
			rb.Available = rb.Available.Add(r.DrawsFromReserve)
			rb.Reserved = rb.Reserved.Sub(r.DrawsFromReserve)
			if rb.Reserved.IsNegative() {
				rb.Reserved = decimal.Zero
			}
			rb.UpdatedAt = time.Now().UTC()
			if err := l.PutBalance(ctx, rb); err != nil {
				return err
			}
		}
	}
	return l.DeleteReservation(ctx, r.ID)
}
