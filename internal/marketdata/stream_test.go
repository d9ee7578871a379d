package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestStream(assetIDs ...string) *Stream {
	bus := signalbus.New(testLogger())
	s := New("wss://example.invalid", assetIDs, bus, testLogger())
	return s
}

func bookMessage(assetID, bidPrice, bidSize, askPrice, askSize string) []byte {
	env := inboundEnvelope{
		Type:    "book",
		AssetID: assetID,
		Bids:    []wireLevel{{Price: bidPrice, Size: bidSize}},
		Asks:    []wireLevel{{Price: askPrice, Size: askSize}},
	}
	b, _ := json.Marshal(env)
	return b
}

func priceChangeMessage(assetID, side, price, size string) []byte {
	env := inboundEnvelope{Type: "price_change", AssetID: assetID, Side: side, Price: price, Size: size}
	b, _ := json.Marshal(env)
	return b
}

func TestResyncDiscardsDeltasUntilFreshSnapshot(t *testing.T) {
	s := newTestStream("tok-1")

	// Simulate entering a reconnect attempt: mark tok-1 as pending a fresh
	// snapshot and set state to RESYNCING, as connectAndServe would.
	s.mu.Lock()
	s.pending = map[string]bool{"tok-1": true}
	s.mu.Unlock()
	s.setState(StateResyncing)

	// Deltas received while resyncing must be discarded (S6).
	s.handleRaw(priceChangeMessage("tok-1", "bid", "0.40", "10"))
	s.handleRaw(priceChangeMessage("tok-1", "ask", "0.60", "10"))

	repl := s.Replica("tok-1")
	if repl.Ready() {
		t.Fatal("expected no snapshot applied yet; deltas during resync must not seed the replica")
	}

	// A fresh snapshot arrives, ending the resync for tok-1.
	s.handleRaw(bookMessage("tok-1", "0.50", "100", "0.55", "80"))

	if s.State() != StateStreaming {
		t.Fatalf("expected STREAMING once all assets resynced, got %s", s.State())
	}
	bid, ok := repl.BestBid()
	if !ok || bid.Price.String() != "0.5" {
		t.Fatalf("expected replica seeded from snapshot, got %+v ok=%v", bid, ok)
	}

	// Deltas after resync complete apply normally.
	s.handleRaw(priceChangeMessage("tok-1", "bid", "0.51", "20"))
	bid, _ = repl.BestBid()
	if bid.Price.String() != "0.51" {
		t.Fatalf("expected delta applied post-resync, got %+v", bid)
	}
}

func TestHandleRawAcceptsBatchArrays(t *testing.T) {
	s := newTestStream("tok-1", "tok-2")
	s.mu.Lock()
	s.pending = map[string]bool{"tok-1": true, "tok-2": true}
	s.mu.Unlock()
	s.setState(StateResyncing)

	batch := "[" + string(bookMessage("tok-1", "0.5", "10", "0.55", "10")) + "," +
		string(bookMessage("tok-2", "0.3", "10", "0.35", "10")) + "]"
	s.handleRaw([]byte(batch))

	if s.State() != StateStreaming {
		t.Fatalf("expected STREAMING after both assets resynced via batch, got %s", s.State())
	}
}

func TestMalformedMessagePublishesRiskAlert(t *testing.T) {
	s := newTestStream("tok-1")
	received := make(chan domain.Signal, 1)
	s.bus.Subscribe(domain.KindRiskAlert, "test", func(_ context.Context, sig domain.Signal) {
		received <- sig
	})

	s.handleRaw([]byte("{not valid json"))

	select {
	case sig := <-received:
		payload, ok := sig.Payload.(domain.RiskAlertPayload)
		if !ok || payload.Severity != domain.SeverityHigh {
			t.Fatalf("unexpected risk alert payload: %+v", sig.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a RISK_ALERT signal for the malformed message")
	}
}
