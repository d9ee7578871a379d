// Package arbitrage implements the ArbitrageAgent of spec.md §4.7: the
// exemplar strategy that detects and executes pure arbitrages where the
// YES and NO tokens of one binary market sum to less than one unit, net
// of fees and gas, with bounded leg risk.
package arbitrage

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/budget"
	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/orderbook"
	"github.com/alanyoungcy/polymarketbot/internal/position"
	"github.com/alanyoungcy/polymarketbot/internal/risk"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

// Config holds the agent's viability and execution parameters.
type Config struct {
	MinProfitPerUnit decimal.Decimal // edge threshold, recommended >= 0.01
	MaxSlippage      decimal.Decimal // default 0.02 (2%)
	SizeCap          decimal.Decimal
	FeesPerUnit      decimal.Decimal
	GasUSD           decimal.Decimal
	LegRiskTimeout   time.Duration // default 5s
	ReserveGrace     time.Duration // default 10s; not read by Agent, which submits leg A right after the reservation is granted
	MaxRetries       int           // default 3
	ClaimTTL         time.Duration
}

// DefaultConfig returns spec-default parameters, leaving the
// market-specific fields (MinProfitPerUnit, SizeCap, fees, gas) to the
// caller.
func DefaultConfig() Config {
	return Config{
		MaxSlippage:    decimal.NewFromFloat(0.02),
		LegRiskTimeout: 5 * time.Second,
		ReserveGrace:   10 * time.Second,
		MaxRetries:     3,
		ClaimTTL:       30 * time.Second,
	}
}

// Reservations is the subset of budget.Manager the agent depends on.
type Reservations interface {
	RequestReservation(ctx context.Context, req budget.ReservationRequest) (domain.Reservation, error)
	ReleaseReservation(ctx context.Context, reservationID string, realizedPnL decimal.Decimal) error
}

// OrderSubmitter is the subset of gateway.OrderGateway the agent depends
// on.
type OrderSubmitter interface {
	Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// Agent is one ArbitrageAgent instance, watching a single market's YES/NO
// token pair.
type Agent struct {
	Name     string
	Strategy string
	MarketID string

	cfg Config

	bus       *signalbus.Bus
	budget    Reservations
	orders    OrderSubmitter
	risk      *risk.Controller
	positions *position.Store
	logger    *slog.Logger

	yesTokenID string
	noTokenID  string
	yesBook    *orderbook.Replica
	noBook     *orderbook.Replica

	busy      atomic.Bool
	heartbeat chan time.Time
	mu        sync.Mutex
	sub       []signalbus.Handle
}

// New creates an agent watching one market's YES/NO token replicas.
func New(name, strategy, marketID, yesTokenID, noTokenID string, yesBook, noBook *orderbook.Replica,
	bus *signalbus.Bus, budget Reservations, orders OrderSubmitter, riskCtl *risk.Controller, positions *position.Store,
	cfg Config, logger *slog.Logger) *Agent {
	return &Agent{
		Name:       name,
		Strategy:   strategy,
		MarketID:   marketID,
		cfg:        cfg,
		bus:        bus,
		budget:     budget,
		orders:     orders,
		risk:       riskCtl,
		positions:  positions,
		logger:     logger.With(slog.String("component", "arbitrage_agent"), slog.String("agent", name)),
		yesTokenID: yesTokenID,
		noTokenID:  noTokenID,
		yesBook:    yesBook,
		noBook:     noBook,
		heartbeat:  make(chan time.Time, 1),
	}
}

// Heartbeats exposes the agent's liveness side-channel for the
// AgentSupervisor (spec.md §4.8).
func (a *Agent) Heartbeats() <-chan time.Time { return a.heartbeat }

func (a *Agent) beat() {
	select {
	case a.heartbeat <- time.Now():
	default:
	}
}

// Start subscribes the agent to MARKET_STATE and evaluates on every update
// for its two tokens. It does not subscribe to NEWS_EVENT or
// MARKET_OPPORTUNITY; exclusivity against other agents comes only from
// Bus.ClaimOpportunity inside execute. Start returns once the subscription
// is registered; the agent runs until ctx is cancelled or Stop is called.
func (a *Agent) Start(ctx context.Context) {
	h := a.bus.Subscribe(domain.KindMarketState, a.Name, func(_ context.Context, sig domain.Signal) {
		a.beat()
		payload, ok := sig.Payload.(domain.MarketStatePayload)
		if !ok {
			return
		}
		if payload.TokenID != a.yesTokenID && payload.TokenID != a.noTokenID {
			return
		}
		a.tryExecute(ctx)
	})
	a.mu.Lock()
	a.sub = append(a.sub, h)
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.beat()
			}
		}
	}()
}

// Run implements supervisor.Runnable: it starts the agent and blocks until
// ctx is cancelled, at which point it unsubscribes and returns. The
// AgentSupervisor restarts Run (with a fresh ctx) on any non-nil,
// non-cancellation return.
func (a *Agent) Run(ctx context.Context) error {
	a.Start(ctx)
	defer a.Stop()
	<-ctx.Done()
	return nil
}

// Stop unsubscribes the agent from the bus. The supervisor MUST call this
// before dropping the agent (spec.md §9: cyclic bus/agent references).
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range a.sub {
		a.bus.Unsubscribe(h)
	}
	a.sub = nil
}

// Candidate is one evaluated opportunity.
type Candidate struct {
	MarketID          string
	AskYes            decimal.Decimal
	AskNo             decimal.Decimal
	Size              decimal.Decimal
	ExpectedProfitUSD decimal.Decimal
}

// Evaluate checks the current book state for a viable opportunity,
// per spec.md §4.7's viability formula. ok is false when no viable size
// exists (either side empty, or the edge does not clear costs).
func (a *Agent) Evaluate() (Candidate, bool) {
	askYes, ok := a.yesBook.BestAsk()
	if !ok {
		return Candidate{}, false
	}
	askNo, ok := a.noBook.BestAsk()
	if !ok {
		return Candidate{}, false
	}

	q := decimal.Min(askYes.Size, askNo.Size)
	if a.cfg.SizeCap.IsPositive() {
		q = decimal.Min(q, a.cfg.SizeCap)
	}
	if !q.IsPositive() {
		return Candidate{}, false
	}

	edge := decimal.NewFromInt(1).Sub(askYes.Price.Add(askNo.Price))
	fees := a.cfg.FeesPerUnit.Mul(q)
	costsPerUnit := a.cfg.FeesPerUnit
	if a.cfg.GasUSD.IsPositive() {
		costsPerUnit = costsPerUnit.Add(a.cfg.GasUSD.Div(q))
	}
	threshold := a.cfg.MinProfitPerUnit.Add(costsPerUnit)
	if edge.LessThan(threshold) {
		return Candidate{}, false
	}

	profit := q.Mul(edge).Sub(fees).Sub(a.cfg.GasUSD)
	return Candidate{
		MarketID:          a.MarketID,
		AskYes:            askYes.Price,
		AskNo:             askNo.Price,
		Size:              q,
		ExpectedProfitUSD: profit,
	}, true
}

// SelectBest applies the tie-break rule of spec.md §4.7: highest absolute
// expected profit, then lower a+b (tighter market), then lexicographic
// market id.
func SelectBest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

func better(c, best Candidate) bool {
	cAbs := c.ExpectedProfitUSD.Abs()
	bAbs := best.ExpectedProfitUSD.Abs()
	if !cAbs.Equal(bAbs) {
		return cAbs.GreaterThan(bAbs)
	}
	cSum := c.AskYes.Add(c.AskNo)
	bSum := best.AskYes.Add(best.AskNo)
	if !cSum.Equal(bSum) {
		return cSum.LessThan(bSum)
	}
	return c.MarketID < best.MarketID
}

// tryExecute runs the full CLAIM→RESERVE→PLACE_A→PLACE_B state machine
// for the current candidate, if any, and if the agent is not already mid
// execution.
func (a *Agent) tryExecute(ctx context.Context) {
	if !a.busy.CompareAndSwap(false, true) {
		return
	}
	defer a.busy.Store(false)

	cand, ok := a.Evaluate()
	if !ok {
		return
	}
	a.execute(ctx, cand)
}

// execute drives one opportunity through CLAIM, RESERVE, PLACE_A,
// PLACE_B, and SETTLED/ABORT.
func (a *Agent) execute(ctx context.Context, cand Candidate) {
	opportunityID := a.MarketID

	if err := a.bus.ClaimOpportunity(opportunityID, a.Name, a.cfg.ClaimTTL); err != nil {
		return // IDLE: another agent already owns this opportunity (P3).
	}
	defer a.bus.ReleaseClaim(opportunityID, a.Name)

	_ = a.bus.Publish(domain.Signal{
		Kind:     domain.KindMarketOpportunity,
		Priority: domain.PriorityHigh,
		Source:   a.Name,
		Payload: domain.MarketOpportunityPayload{
			OpportunityID:     opportunityID,
			OppKind:           domain.OpportunityPureArb,
			MarketIDs:         []string{a.MarketID},
			TokenIDs:          []string{a.yesTokenID, a.noTokenID},
			ExpectedProfitUSD: mustFloat(cand.ExpectedProfitUSD),
			Confidence:        1.0,
			ClaimedBy:         a.Name,
		},
	})

	amount := cand.AskYes.Add(cand.AskNo).Mul(cand.Size)
	reservation, err := a.budget.RequestReservation(ctx, budget.ReservationRequest{
		Strategy: a.Strategy,
		Agent:    a.Name,
		Amount:   amount,
		Priority: domain.ReservationNormal,
	})
	if err != nil {
		a.logger.Warn("reservation denied", slog.String("tag", "DENY:BUDGET"), slog.String("market", a.MarketID))
		a.positions.DenyObservation(a.Name, a.yesTokenID, domain.OrderSideBuy, "capital denied")
		return
	}

	legA := domain.Order{
		TokenID:        a.yesTokenID,
		Side:           domain.OrderSideBuy,
		LimitPrice:     slippagePrice(cand.AskYes, a.cfg.MaxSlippage),
		Size:           cand.Size,
		TimeInForce:    domain.TimeInForceIOC,
		MaxSlippageBps: bps(a.cfg.MaxSlippage),
		Strategy:       a.Strategy,
		CreatedAt:      time.Now().UTC(),
	}
	resultA, err := a.submitWithRetry(ctx, legA)
	if err != nil || !resultA.Filled() {
		a.abort(ctx, reservation.ID, decimal.Zero)
		return
	}

	legB := domain.Order{
		TokenID:        a.noTokenID,
		Side:           domain.OrderSideBuy,
		LimitPrice:     slippagePrice(cand.AskNo, a.cfg.MaxSlippage),
		Size:           resultA.FilledSize,
		TimeInForce:    domain.TimeInForceIOC,
		MaxSlippageBps: bps(a.cfg.MaxSlippage),
		Strategy:       a.Strategy,
		CreatedAt:      time.Now().UTC(),
	}
	resultB, err := a.submitWithRetry(ctx, legB)
	if err != nil || !resultB.Filled() {
		a.hedgeLegA(ctx, reservation.ID, resultA)
		return
	}

	a.settle(ctx, reservation.ID, resultA, resultB)
}

// settle handles the both-legs-filled path: compute the realized PnL and
// release the reservation with it.
func (a *Agent) settle(ctx context.Context, reservationID string, resultA, resultB domain.OrderResult) {
	spentA := resultA.AvgPrice.Mul(resultA.FilledSize)
	spentB := resultB.AvgPrice.Mul(resultB.FilledSize)
	size := decimal.Min(resultA.FilledSize, resultB.FilledSize)
	realized := size.Sub(spentA).Sub(spentB)

	if err := a.budget.ReleaseReservation(ctx, reservationID, realized); err != nil {
		a.logger.Error("release reservation failed after settle", slog.String("error", err.Error()))
	}
	a.risk.RecordRealizedPnL(realized)
	pos := a.positions.Open(ctx, domain.Position{
		Agent:      a.Name,
		TokenID:    a.yesTokenID,
		Direction:  domain.OrderSideBuy,
		EntryPrice: resultA.AvgPrice,
		Size:       resultA.FilledSize,
		Strategy:   a.Strategy,
	})
	if _, err := a.positions.Close(ctx, pos.ID, resultA.AvgPrice, domain.ExitReasonExplicit); err != nil {
		a.logger.Error("close settled position failed", slog.String("error", err.Error()))
	}
	a.logger.Info("pure arb settled", slog.String("market", a.MarketID), slog.String("realized_pnl", realized.String()))
}

// hedgeLegA implements the bounded leg-risk close: leg B rejected after
// leg A filled, so leg A's residual is closed at market within
// LegRiskTimeout (P9, spec.md §4.7/§5).
func (a *Agent) hedgeLegA(ctx context.Context, reservationID string, resultA domain.OrderResult) {
	hedgeCtx, cancel := context.WithTimeout(ctx, a.cfg.LegRiskTimeout)
	defer cancel()

	hedgeOrder := domain.Order{
		TokenID:     a.yesTokenID,
		Side:        domain.OrderSideSell,
		LimitPrice:  decimal.Zero, // market: accept any executable price
		Size:        resultA.FilledSize,
		TimeInForce: domain.TimeInForceIOC,
		Strategy:    a.Strategy,
		CreatedAt:   time.Now().UTC(),
	}
	hedgeResult, err := a.orders.Submit(hedgeCtx, hedgeOrder)

	spentA := resultA.AvgPrice.Mul(resultA.FilledSize)
	realized := decimal.Zero
	if err == nil && hedgeResult.Filled() {
		proceeds := hedgeResult.AvgPrice.Mul(hedgeResult.FilledSize)
		realized = proceeds.Sub(spentA)
	} else {
		realized = spentA.Neg() // total loss if the hedge itself failed
	}

	a.logger.Warn("leg risk realized, hedged leg A at market",
		slog.String("tag", "LEG_RISK:HEDGE"), slog.String("market", a.MarketID), slog.String("realized_pnl", realized.String()))

	a.risk.RecordRealizedPnL(realized)
	if err := a.budget.ReleaseReservation(ctx, reservationID, realized); err != nil {
		a.logger.Error("release reservation failed after hedge", slog.String("error", err.Error()))
	}
	a.positions.DenyObservation(a.Name, a.yesTokenID, domain.OrderSideSell, "leg_risk_hedge")
}

// abort handles an immediate leg-A-rejected path: nothing filled, release
// the full reservation.
func (a *Agent) abort(ctx context.Context, reservationID string, realized decimal.Decimal) {
	if err := a.budget.ReleaseReservation(ctx, reservationID, realized); err != nil {
		a.logger.Error("release reservation failed after abort", slog.String("error", err.Error()))
	}
}

// submitWithRetry implements spec.md §6.2's retry policy: REJECTED with
// reason TEMPORARY, or a transport error, is retried up to MaxRetries
// times with jittered backoff; PERSISTENT rejections return immediately.
func (a *Agent) submitWithRetry(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	maxRetries := a.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var lastResult domain.OrderResult
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := a.orders.Submit(ctx, order)
		if err == nil && !(result.Status == domain.OrderStatusRejected && result.RejectReason == domain.RejectTemporary) {
			return result, nil
		}
		lastResult, lastErr = result, err
		if attempt == maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * 100 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
		select {
		case <-ctx.Done():
			return lastResult, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return lastResult, lastErr
}

func slippagePrice(best decimal.Decimal, maxSlippage decimal.Decimal) decimal.Decimal {
	return best.Mul(decimal.NewFromInt(1).Add(maxSlippage))
}

func bps(frac decimal.Decimal) int {
	f, _ := frac.Mul(decimal.NewFromInt(10000)).Float64()
	return int(f)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// NewOpportunityID derives a deterministic opportunity id from a market,
// used where callers need a stable id outside of an Agent instance.
func NewOpportunityID(marketID string) string {
	if marketID != "" {
		return marketID
	}
	return uuid.New().String()
}
