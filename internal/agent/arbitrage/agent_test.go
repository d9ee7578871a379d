package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/budget"
	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/orderbook"
	"github.com/alanyoungcy/polymarketbot/internal/position"
	"github.com/alanyoungcy/polymarketbot/internal/risk"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(discardWriter{}, nil)) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBudget struct {
	reserveErr  error
	reservation domain.Reservation
	released    []struct {
		id       string
		realized decimal.Decimal
	}
}

func (f *fakeBudget) RequestReservation(_ context.Context, _ budget.ReservationRequest) (domain.Reservation, error) {
	if f.reserveErr != nil {
		return domain.Reservation{}, f.reserveErr
	}
	return f.reservation, nil
}

func (f *fakeBudget) ReleaseReservation(_ context.Context, reservationID string, realizedPnL decimal.Decimal) error {
	f.released = append(f.released, struct {
		id       string
		realized decimal.Decimal
	}{reservationID, realizedPnL})
	return nil
}

type fakeSubmitter struct {
	results []domain.OrderResult
	errs    []error
	calls   []domain.Order
}

func (f *fakeSubmitter) Submit(_ context.Context, order domain.Order) (domain.OrderResult, error) {
	f.calls = append(f.calls, order)
	i := len(f.calls) - 1
	if i >= len(f.results) {
		return domain.OrderResult{}, errors.New("fakeSubmitter: no more scripted results")
	}
	return f.results[i], f.errs[i]
}

func seedBooks(t *testing.T, yesAsk, yesSize, noAsk, noSize string) (*orderbook.Replica, *orderbook.Replica) {
	t.Helper()
	yes := orderbook.New("tok-yes")
	yes.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-yes",
		Asks:    []domain.PriceLevel{{Price: dec(yesAsk), Size: dec(yesSize)}},
		Bids:    []domain.PriceLevel{{Price: dec("0.01"), Size: dec("1")}},
	})
	no := orderbook.New("tok-no")
	no.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-no",
		Asks:    []domain.PriceLevel{{Price: dec(noAsk), Size: dec(noSize)}},
		Bids:    []domain.PriceLevel{{Price: dec("0.01"), Size: dec("1")}},
	})
	return yes, no
}

func newTestAgent(t *testing.T, yesBook, noBook *orderbook.Replica, bus *signalbus.Bus, b Reservations, o OrderSubmitter, cfg Config) *Agent {
	t.Helper()
	store := position.New(nil)
	riskCtl := risk.New(risk.Config{}, store, bus, testLogger())
	return New("arb-1", "arb", "mkt-1", "tok-yes", "tok-no", yesBook, noBook, bus, b, o, riskCtl, store, cfg, testLogger())
}

// TestEvaluateViableOpportunity exercises the happy-path viability formula:
// YES ask 0.48/size 100, NO ask 0.49/size 100, size cap 50, zero fees/gas,
// min profit per unit 0.02 -> viable with expected profit 1.50.
func TestEvaluateViableOpportunity(t *testing.T) {
	yes, no := seedBooks(t, "0.48", "100", "0.49", "100")
	bus := signalbus.New(testLogger())
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.MinProfitPerUnit = dec("0.02")
	cfg.SizeCap = dec("50")

	a := newTestAgent(t, yes, no, bus, &fakeBudget{}, &fakeSubmitter{}, cfg)

	cand, ok := a.Evaluate()
	if !ok {
		t.Fatal("expected a viable opportunity")
	}
	if !cand.Size.Equal(dec("50")) {
		t.Fatalf("expected size 50, got %s", cand.Size)
	}
	if !cand.ExpectedProfitUSD.Equal(dec("1.5")) {
		t.Fatalf("expected profit 1.5, got %s", cand.ExpectedProfitUSD)
	}
}

// TestExecutePureArbHappyPath exercises S1: both legs fill at the quoted
// ask prices, reserving 48.5 and realizing 1.50.
func TestExecutePureArbHappyPath(t *testing.T) {
	yes, no := seedBooks(t, "0.48", "100", "0.49", "100")
	bus := signalbus.New(testLogger())
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.MinProfitPerUnit = dec("0.02")
	cfg.SizeCap = dec("50")

	fb := &fakeBudget{reservation: domain.Reservation{ID: "res-1"}}
	fs := &fakeSubmitter{
		results: []domain.OrderResult{
			{Status: domain.OrderStatusFilled, FilledSize: dec("50"), AvgPrice: dec("0.48")},
			{Status: domain.OrderStatusFilled, FilledSize: dec("50"), AvgPrice: dec("0.49")},
		},
		errs: []error{nil, nil},
	}
	a := newTestAgent(t, yes, no, bus, fb, fs, cfg)

	cand, ok := a.Evaluate()
	if !ok {
		t.Fatal("expected viable candidate")
	}
	a.execute(context.Background(), cand)

	if len(fs.calls) != 2 {
		t.Fatalf("expected exactly 2 orders submitted, got %d", len(fs.calls))
	}
	if len(fb.released) != 1 {
		t.Fatalf("expected exactly 1 reservation release, got %d", len(fb.released))
	}
	if !fb.released[0].realized.Equal(dec("1.5")) {
		t.Fatalf("expected realized pnl 1.5, got %s", fb.released[0].realized)
	}
}

// TestExecuteLegRiskHedge exercises S2: leg A fills, leg B is rejected, the
// hedge sells leg A's fill at a worse price, realizing -1.00, and the
// reservation is released exactly once carrying that loss.
func TestExecuteLegRiskHedge(t *testing.T) {
	yes, no := seedBooks(t, "0.48", "100", "0.49", "100")
	bus := signalbus.New(testLogger())
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.MinProfitPerUnit = dec("0.02")
	cfg.SizeCap = dec("50")
	cfg.LegRiskTimeout = 5 * time.Second

	fb := &fakeBudget{reservation: domain.Reservation{ID: "res-2"}}
	fs := &fakeSubmitter{
		results: []domain.OrderResult{
			{Status: domain.OrderStatusFilled, FilledSize: dec("50"), AvgPrice: dec("0.48")},
			{Status: domain.OrderStatusRejected, RejectReason: domain.RejectPersistent},
			{Status: domain.OrderStatusFilled, FilledSize: dec("50"), AvgPrice: dec("0.46")},
		},
		errs: []error{nil, nil, nil},
	}
	a := newTestAgent(t, yes, no, bus, fb, fs, cfg)

	cand, ok := a.Evaluate()
	if !ok {
		t.Fatal("expected viable candidate")
	}
	a.execute(context.Background(), cand)

	if len(fs.calls) != 3 {
		t.Fatalf("expected leg A, leg B, and a hedge submission, got %d calls", len(fs.calls))
	}
	if fs.calls[2].Side != domain.OrderSideSell {
		t.Fatalf("expected the hedge order to sell the filled leg A position, got %+v", fs.calls[2])
	}
	if len(fb.released) != 1 {
		t.Fatalf("expected exactly 1 reservation release, got %d", len(fb.released))
	}
	if !fb.released[0].realized.Equal(dec("-1")) {
		t.Fatalf("expected realized pnl -1, got %s", fb.released[0].realized)
	}
}

// TestExecuteBudgetDenial exercises S3: the reservation request is denied,
// so no order is ever submitted and the reservation is never released.
func TestExecuteBudgetDenial(t *testing.T) {
	yes, no := seedBooks(t, "0.48", "100", "0.49", "100")
	bus := signalbus.New(testLogger())
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.MinProfitPerUnit = dec("0.02")
	cfg.SizeCap = dec("50")

	fb := &fakeBudget{reserveErr: domain.ErrCapitalDenied}
	fs := &fakeSubmitter{}
	a := newTestAgent(t, yes, no, bus, fb, fs, cfg)

	cand, ok := a.Evaluate()
	if !ok {
		t.Fatal("expected viable candidate")
	}
	a.execute(context.Background(), cand)

	if len(fs.calls) != 0 {
		t.Fatalf("expected no orders submitted on capital denial, got %d", len(fs.calls))
	}
	if len(fb.released) != 0 {
		t.Fatalf("expected no reservation release when nothing was reserved, got %d", len(fb.released))
	}
}

// TestOpportunityClaimExclusivity exercises P3: two agents racing the same
// opportunity id only ever have one of them reserve capital.
func TestOpportunityClaimExclusivity(t *testing.T) {
	yesA, noA := seedBooks(t, "0.48", "100", "0.49", "100")
	yesB, noB := seedBooks(t, "0.48", "100", "0.49", "100")
	bus := signalbus.New(testLogger())
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.MinProfitPerUnit = dec("0.02")
	cfg.SizeCap = dec("50")
	cfg.ClaimTTL = 30 * time.Second

	fbA := &fakeBudget{reserveErr: domain.ErrCapitalDenied}
	fbB := &fakeBudget{reserveErr: domain.ErrCapitalDenied}
	fsA, fsB := &fakeSubmitter{}, &fakeSubmitter{}

	agentA := newTestAgent(t, yesA, noA, bus, fbA, fsA, cfg)
	agentA.Name = "agent-a"
	agentB := newTestAgent(t, yesB, noB, bus, fbB, fsB, cfg)
	agentB.Name = "agent-b"
	agentA.MarketID, agentB.MarketID = "mkt-shared", "mkt-shared"

	if err := bus.ClaimOpportunity("mkt-shared", "agent-a", cfg.ClaimTTL); err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}

	candB, ok := agentB.Evaluate()
	if !ok {
		t.Fatal("expected viable candidate")
	}
	agentB.execute(context.Background(), candB)

	if len(fsB.calls) != 0 {
		t.Fatalf("expected agent-b to be denied the claim and never reserve, got %d calls", len(fsB.calls))
	}
}

// TestSelectBestPicksHighestAbsoluteProfit exercises the tie-break rule:
// highest absolute expected profit wins regardless of sign or market id.
func TestSelectBestPicksHighestAbsoluteProfit(t *testing.T) {
	candidates := []Candidate{
		{MarketID: "mkt-z", ExpectedProfitUSD: dec("0.5"), AskYes: dec("0.4"), AskNo: dec("0.5")},
		{MarketID: "mkt-a", ExpectedProfitUSD: dec("2.0"), AskYes: dec("0.3"), AskNo: dec("0.4")},
	}
	best, ok := SelectBest(candidates)
	if !ok || best.MarketID != "mkt-a" {
		t.Fatalf("expected mkt-a to win on higher absolute profit, got %+v", best)
	}
}

func TestSelectBestTieBreaksOnTighterSpreadThenMarketID(t *testing.T) {
	candidates := []Candidate{
		{MarketID: "mkt-b", ExpectedProfitUSD: dec("1.0"), AskYes: dec("0.40"), AskNo: dec("0.50")},
		{MarketID: "mkt-a", ExpectedProfitUSD: dec("1.0"), AskYes: dec("0.30"), AskNo: dec("0.40")},
	}
	best, ok := SelectBest(candidates)
	if !ok || best.MarketID != "mkt-a" {
		t.Fatalf("expected mkt-a to win on tighter a+b spread, got %+v", best)
	}

	tied := []Candidate{
		{MarketID: "mkt-d", ExpectedProfitUSD: dec("1.0"), AskYes: dec("0.40"), AskNo: dec("0.50")},
		{MarketID: "mkt-c", ExpectedProfitUSD: dec("1.0"), AskYes: dec("0.45"), AskNo: dec("0.45")},
	}
	best, ok = SelectBest(tied)
	if !ok || best.MarketID != "mkt-c" {
		t.Fatalf("expected mkt-c to win on lexicographic market id when profit and a+b tie, got %+v", best)
	}
}
