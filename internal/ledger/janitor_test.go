package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

func TestJanitorReclaimsExpiredReservation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_ = l.Seed(ctx, "pure_arb", decimal.NewFromInt(1000))
	b, _, _ := l.GetBalance(ctx, "pure_arb")
	b.Available = b.Available.Sub(decimal.NewFromInt(100))
	b.Reserved = b.Reserved.Add(decimal.NewFromInt(100))
	_ = l.PutBalance(ctx, b)

	r := domain.Reservation{
		ID: "res-expired", Strategy: "pure_arb", Agent: "agent-1",
		Amount: decimal.NewFromInt(100), DrawnFromStrategy: decimal.NewFromInt(100),
		Priority: domain.ReservationNormal, CreatedAt: time.Now().Add(-time.Hour), TTL: time.Second,
	}
	if err := l.PutReservation(ctx, r); err != nil {
		t.Fatalf("putReservation: %v", err)
	}

	j := NewJanitor(l, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	after, ok, err := l.GetBalance(ctx, "pure_arb")
	if err != nil || !ok {
		t.Fatalf("GetBalance after sweep: ok=%v err=%v", ok, err)
	}
	if !after.Available.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("Available after reclaim = %s, want 1000", after.Available)
	}
	if !after.Reserved.IsZero() {
		t.Fatalf("Reserved after reclaim = %s, want 0", after.Reserved)
	}

	if _, ok, _ := l.GetReservation(ctx, "res-expired"); ok {
		t.Fatal("reservation still present after janitor sweep")
	}
}

func TestJanitorLeavesUnexpiredReservations(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	r := domainReservationFixture("res-fresh", decimal.NewFromInt(10))
	_ = l.PutReservation(ctx, r)

	j := NewJanitor(l, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_ = j.Sweep(ctx)

	if _, ok, _ := l.GetReservation(ctx, "res-fresh"); !ok {
		t.Fatal("unexpired reservation was reclaimed")
	}
}
