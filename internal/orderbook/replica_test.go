package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: dec(price), Size: dec(size)}
}

func TestApplySnapshotThenBestBidAsk(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-1",
		Bids:    []domain.PriceLevel{lvl("0.55", "100"), lvl("0.54", "50")},
		Asks:    []domain.PriceLevel{lvl("0.57", "80"), lvl("0.58", "40")},
	})

	bid, ok := r.BestBid()
	if !ok || !bid.Price.Equal(dec("0.55")) {
		t.Fatalf("best bid = %+v, ok=%v", bid, ok)
	}
	ask, ok := r.BestAsk()
	if !ok || !ask.Price.Equal(dec("0.57")) {
		t.Fatalf("best ask = %+v, ok=%v", ask, ok)
	}
	if !r.Invariant() {
		t.Fatal("expected best_bid < best_ask")
	}
}

func TestApplyDeltaRemovesLevelOnZeroSize(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-1",
		Bids:    []domain.PriceLevel{lvl("0.55", "100")},
		Asks:    []domain.PriceLevel{lvl("0.57", "80")},
	})
	r.ApplyDelta(domain.PriceChange{AssetID: "tok-1", Side: domain.SideBid, Price: dec("0.55"), Size: dec("0"), Timestamp: time.Now()})

	if _, ok := r.BestBid(); ok {
		t.Fatal("expected bid level to be removed after zero-size delta")
	}
}

func TestApplyDeltaIsIdempotent(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{AssetID: "tok-1", Bids: []domain.PriceLevel{lvl("0.55", "100")}})

	change := domain.PriceChange{AssetID: "tok-1", Side: domain.SideBid, Price: dec("0.56"), Size: dec("20"), Timestamp: time.Now()}
	r.ApplyDelta(change)
	r.ApplyDelta(change)

	bid, ok := r.BestBid()
	if !ok || !bid.Price.Equal(dec("0.56")) || !bid.Size.Equal(dec("20")) {
		t.Fatalf("expected idempotent result 0.56/20, got %+v ok=%v", bid, ok)
	}
}

func TestApplyDeltaBeforeSnapshotIsNoOp(t *testing.T) {
	r := New("tok-1")
	r.ApplyDelta(domain.PriceChange{AssetID: "tok-1", Side: domain.SideBid, Price: dec("0.5"), Size: dec("10")})
	if r.Ready() {
		t.Fatal("replica should not be ready before any snapshot")
	}
	if _, ok := r.BestBid(); ok {
		t.Fatal("delta applied before snapshot should be discarded")
	}
}

func TestSnapshotRoundTripEquivalence(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-1",
		Bids:    []domain.PriceLevel{lvl("0.55", "100"), lvl("0.54", "50")},
		Asks:    []domain.PriceLevel{lvl("0.57", "80")},
	})
	snap := r.Snapshot()

	r2 := New("tok-1")
	r2.ApplySnapshot(snap)

	b1, _ := r.BestBid()
	b2, _ := r2.BestBid()
	if !b1.Price.Equal(b2.Price) || !b1.Size.Equal(b2.Size) {
		t.Fatalf("snapshot round-trip mismatch: %+v vs %+v", b1, b2)
	}
}

func TestMidRequiresBothSides(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{AssetID: "tok-1", Bids: []domain.PriceLevel{lvl("0.5", "10")}})
	if _, ok := r.Mid(); ok {
		t.Fatal("mid should be unavailable with only one side present")
	}

	r.ApplyDelta(domain.PriceChange{AssetID: "tok-1", Side: domain.SideAsk, Price: dec("0.6"), Size: dec("10")})
	mid, ok := r.Mid()
	if !ok || !mid.Equal(dec("0.55")) {
		t.Fatalf("expected mid 0.55, got %v ok=%v", mid, ok)
	}
}

func TestDepthOrdering(t *testing.T) {
	r := New("tok-1")
	r.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID: "tok-1",
		Bids:    []domain.PriceLevel{lvl("0.50", "1"), lvl("0.55", "1"), lvl("0.52", "1")},
		Asks:    []domain.PriceLevel{lvl("0.60", "1"), lvl("0.58", "1"), lvl("0.59", "1")},
	})
	bids, asks := r.Depth(2)
	if len(bids) != 2 || !bids[0].Price.Equal(dec("0.55")) || !bids[1].Price.Equal(dec("0.52")) {
		t.Fatalf("unexpected bid depth ordering: %+v", bids)
	}
	if len(asks) != 2 || !asks[0].Price.Equal(dec("0.58")) || !asks[1].Price.Equal(dec("0.59")) {
		t.Fatalf("unexpected ask depth ordering: %+v", asks)
	}
}
