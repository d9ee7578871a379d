package gateway

import "testing"

func TestToDomainMarketMapsTokens(t *testing.T) {
	w := catalogMarketWire{
		ID:         "mkt-1",
		Question:   "Will it rain tomorrow?",
		EndDateISO: "2026-01-01T00:00:00Z",
		Volume:     12345.6,
		Tokens: []catalogTokenWire{
			{TokenID: "tok-yes", Outcome: "Yes"},
			{TokenID: "tok-no", Outcome: "No"},
		},
	}
	m := toDomainMarket(w)
	if m.ID != "mkt-1" || m.Volume != 12345.6 {
		t.Fatalf("unexpected market: %+v", m)
	}
	if m.YesToken() != "tok-yes" || m.NoToken() != "tok-no" {
		t.Fatalf("unexpected token mapping: %+v", m.Tokens)
	}
	if m.EndDate.IsZero() {
		t.Fatal("expected end date to be parsed")
	}
}

func TestCheckStatusMapsSentinelErrors(t *testing.T) {
	if err := checkStatus(200, ""); err != nil {
		t.Fatalf("expected no error for 200, got %v", err)
	}
	if err := checkStatus(404, ""); err == nil {
		t.Fatal("expected error for 404")
	}
	if err := checkStatus(429, ""); err == nil {
		t.Fatal("expected error for 429")
	}
}
