package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

func TestOpenUpdateCloseLifecycle(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	p := s.Open(ctx, domain.Position{
		Agent:      "arb-1",
		TokenID:    "tok-yes",
		Direction:  domain.OrderSideBuy,
		EntryPrice: decimal.RequireFromString("0.48"),
		Size:       decimal.RequireFromString("50"),
		Strategy:   "arb",
	})
	if p.Status != domain.PositionStatusOpen {
		t.Fatalf("expected open position, got %+v", p)
	}

	updated, ok := s.UpdatePrice(ctx, p.ID, decimal.RequireFromString("0.50"))
	if !ok {
		t.Fatal("expected update to succeed")
	}
	if !updated.UnrealizedPnL.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected unrealized pnl 1, got %s", updated.UnrealizedPnL)
	}

	closed, err := s.Close(ctx, p.ID, decimal.RequireFromString("0.52"), domain.ExitReasonExplicit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Fatalf("expected closed status, got %+v", closed)
	}
	if !closed.RealizedPnL.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected realized pnl 2, got %s", closed.RealizedPnL)
	}
	if !closed.UnrealizedPnL.IsZero() {
		t.Fatalf("expected zero unrealized pnl after close, got %s", closed.UnrealizedPnL)
	}
}

func TestCloseUnknownPositionReturnsNotFound(t *testing.T) {
	s := New(nil)
	_, err := s.Close(context.Background(), "nonexistent", decimal.Zero, domain.ExitReasonExplicit)
	if err == nil {
		t.Fatal("expected error for unknown position")
	}
}

func TestTotalExposureSumsOpenPositions(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	s.Open(ctx, domain.Position{Agent: "a", TokenID: "t1", Direction: domain.OrderSideBuy, EntryPrice: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("10")})
	s.Open(ctx, domain.Position{Agent: "a", TokenID: "t2", Direction: domain.OrderSideBuy, EntryPrice: decimal.RequireFromString("0.3"), Size: decimal.RequireFromString("20")})

	total := s.TotalExposure("a")
	if !total.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("expected total exposure 11 (5+6), got %s", total)
	}
}
