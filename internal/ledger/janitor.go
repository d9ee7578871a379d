package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically reclaims expired reservations: capital held by a
// reservation whose TTL has elapsed is returned to the strategy's available
// balance (and the reserve pool, if it was drawn from) so a crashed agent
// can never permanently strand capital.
type Janitor struct {
	ledger   *Ledger
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a Janitor that sweeps every interval.
func NewJanitor(l *Ledger, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{ledger: l, interval: interval, logger: logger.With(slog.String("component", "reservation_janitor"))}
}

// Run sweeps on a ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				j.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep reclaims every expired reservation once. It is exported so callers
// can drive it deterministically in tests rather than waiting on the
// ticker.
func (j *Janitor) Sweep(ctx context.Context) error {
	ids, err := j.ledger.ReservationIDs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		r, ok, err := j.ledger.GetReservation(ctx, id)
		if err != nil || !ok {
			continue
		}
		if !r.Expired(now) {
			continue
		}
		if err := j.ledger.reclaim(ctx, r); err != nil {
			j.logger.Error("reclaim failed", slog.String("reservation_id", id), slog.Any("error", err))
			continue
		}
		j.logger.Warn("reclaimed expired reservation",
			slog.String("reservation_id", id),
			slog.String("strategy", r.Strategy),
			slog.String("agent", r.Agent),
		)
	}
	return nil
}
