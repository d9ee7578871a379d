// Package risk implements the RiskController of spec.md §4.6: portfolio
// invariants the BudgetManager alone cannot express, plus the circuit
// breaker. It is the last gate before an agent's entry decision and the
// only component that can force every agent into a deny-everything state.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/position"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

// Config holds the configured limits of spec.md §4.6.
type Config struct {
	MaxPositionSizeUSD   decimal.Decimal
	MaxTotalExposureUSD  decimal.Decimal
	MaxEntityExposureUSD decimal.Decimal
	MaxPositionsPerAgent int
	MaxDailyLossUSD      decimal.Decimal
	MinSignalQuality     float64
}

// rapidLossWindow is the sliding window the rapid-loss rule evaluates
// over (spec.md §4.6: "loss exceeds 50% of the daily limit within any
// 15-minute window").
const rapidLossWindow = 15 * time.Minute

type pnlEvent struct {
	at     time.Time
	amount decimal.Decimal
}

// EntryRequest is the input to Evaluate.
type EntryRequest struct {
	Agent       string
	TokenID     string
	Entity      string
	SizeUSD     decimal.Decimal
	SignalGated bool
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Approved bool
	Reason   string
}

// Controller is the RiskController.
type Controller struct {
	cfg       Config
	positions *position.Store
	bus       *signalbus.Bus
	logger    *slog.Logger
	audit     *AuditLog

	mu                 sync.Mutex
	pnlEvents          []pnlEvent
	cumulativeRealized decimal.Decimal
	dayStart           time.Time

	tripped      atomic.Bool
	tripAnnounced atomic.Bool
}

// New creates a Controller enforcing cfg's limits against positions,
// publishing RISK_ALERT signals on bus.
func New(cfg Config, positions *position.Store, bus *signalbus.Bus, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		positions: positions,
		bus:       bus,
		logger:    logger.With(slog.String("component", "risk_controller")),
		audit:     NewAuditLog(256),
		dayStart:  time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// AuditLog exposes the denial audit ring buffer for operators/tests.
func (c *Controller) AuditLog() *AuditLog { return c.audit }

// Tripped reports whether the circuit breaker has tripped.
func (c *Controller) Tripped() bool { return c.tripped.Load() }

// Evaluate implements the 3-step entry decision of spec.md §4.6.
func (c *Controller) Evaluate(ctx context.Context, req EntryRequest, signalStrength float64) Decision {
	if c.tripped.Load() {
		d := Decision{Approved: false, Reason: "circuit breaker tripped"}
		c.deny(req, d.Reason)
		return d
	}

	if c.cfg.MaxPositionSizeUSD.IsPositive() && req.SizeUSD.GreaterThan(c.cfg.MaxPositionSizeUSD) {
		d := Decision{Approved: false, Reason: "max position size exceeded"}
		c.deny(req, d.Reason)
		return d
	}

	if c.cfg.MaxTotalExposureUSD.IsPositive() {
		prospective := c.positions.TotalExposure(req.Agent).Add(req.SizeUSD)
		if prospective.GreaterThan(c.cfg.MaxTotalExposureUSD) {
			d := Decision{Approved: false, Reason: "max total exposure exceeded"}
			c.deny(req, d.Reason)
			return d
		}
	}

	if c.cfg.MaxEntityExposureUSD.IsPositive() {
		entityExposure := c.entityExposure(req.Entity).Add(req.SizeUSD)
		if entityExposure.GreaterThan(c.cfg.MaxEntityExposureUSD) {
			d := Decision{Approved: false, Reason: "max entity exposure exceeded"}
			c.deny(req, d.Reason)
			return d
		}
	}

	if c.cfg.MaxPositionsPerAgent > 0 && len(c.positions.OpenPositions(req.Agent)) >= c.cfg.MaxPositionsPerAgent {
		d := Decision{Approved: false, Reason: "max positions per agent exceeded"}
		c.deny(req, d.Reason)
		return d
	}

	if req.SignalGated {
		abs := signalStrength
		if abs < 0 {
			abs = -abs
		}
		if abs < c.cfg.MinSignalQuality {
			d := Decision{Approved: false, Reason: "low signal quality"}
			c.deny(req, d.Reason)
			return d
		}
	}

	return Decision{Approved: true}
}

func (c *Controller) entityExposure(entity string) decimal.Decimal {
	// Entity-level exposure is approximated by summing exposure across all
	// known agents' open positions tagged with this entity's token set;
	// callers pass the token id as Entity when no richer grouping exists.
	return c.positions.TotalExposure(entity)
}

func (c *Controller) deny(req EntryRequest, reason string) {
	c.audit.Record(Denial{
		At:     time.Now().UTC(),
		Agent:  req.Agent,
		Entity: req.Entity,
		Reason: reason,
	})
	c.logger.Warn("risk denial", slog.String("tag", "DENY:RISK"), slog.String("agent", req.Agent), slog.String("reason", reason))
}

// RecordRealizedPnL feeds one realized P&L event (positive or negative)
// into the circuit breaker's tracking, evaluating both trip rules after
// recording it.
func (c *Controller) RecordRealizedPnL(amount decimal.Decimal) {
	now := time.Now().UTC()

	c.mu.Lock()
	if today := now.Truncate(24 * time.Hour); today.After(c.dayStart) {
		c.dayStart = today
		c.cumulativeRealized = decimal.Zero
		c.pnlEvents = nil
	}
	c.cumulativeRealized = c.cumulativeRealized.Add(amount)
	c.pnlEvents = append(c.pnlEvents, pnlEvent{at: now, amount: amount})
	c.pnlEvents = trimWindow(c.pnlEvents, now, rapidLossWindow)
	dailyLoss := c.cumulativeRealized
	rapidLoss := sumLosses(c.pnlEvents)
	c.mu.Unlock()

	if c.cfg.MaxDailyLossUSD.IsPositive() {
		if dailyLoss.LessThanOrEqual(c.cfg.MaxDailyLossUSD.Neg()) {
			c.trip("daily loss limit exceeded")
			return
		}
		half := c.cfg.MaxDailyLossUSD.Div(decimal.NewFromInt(2))
		if rapidLoss.LessThanOrEqual(half.Neg()) {
			c.trip("rapid loss rule: >50% of daily limit within 15 minutes")
		}
	}
}

func trimWindow(events []pnlEvent, now time.Time, window time.Duration) []pnlEvent {
	out := events[:0:0]
	for _, e := range events {
		if now.Sub(e.at) <= window {
			out = append(out, e)
		}
	}
	return out
}

func sumLosses(events []pnlEvent) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range events {
		sum = sum.Add(e.amount)
	}
	return sum
}

// trip flips the circuit breaker and publishes RISK_ALERT{CRITICAL,
// portfolio} exactly once (P8).
func (c *Controller) trip(reason string) {
	c.tripped.Store(true)
	if !c.tripAnnounced.CompareAndSwap(false, true) {
		return
	}
	c.logger.Error("circuit breaker tripped", slog.String("tag", "CB:TRIPPED"), slog.String("reason", reason))
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(domain.Signal{
		Kind:     domain.KindRiskAlert,
		Priority: domain.PriorityCritical,
		Source:   "risk_controller",
		Payload: domain.RiskAlertPayload{
			Severity: domain.SeverityCritical,
			Scope:    domain.RiskScopePortfolio,
			Reason:   reason,
		},
	})
}

// Reset manually clears the circuit breaker. Per spec.md §4.6 this is the
// only reset path; there is no automatic reset.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.cumulativeRealized = decimal.Zero
	c.pnlEvents = nil
	c.mu.Unlock()
	c.tripped.Store(false)
	c.tripAnnounced.Store(false)
	c.logger.Info("circuit breaker manually reset")
}
