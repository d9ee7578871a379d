package domain

import "time"

// MarketToken identifies one outcome token of a binary market, per the
// catalog response shape in spec.md §6.1.
type MarketToken struct {
	TokenID string
	Outcome string // "Yes" or "No"
}

// Market is a market descriptor as returned by the external catalog
// service. It is advisory — the core treats it as discovery input, never
// as an authoritative source of live pricing.
type Market struct {
	ID        string
	Question  string
	EndDate   time.Time
	Volume    float64
	Tokens    []MarketToken
}

// YesToken returns the YES outcome token id, or "" if absent.
func (m Market) YesToken() string {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t.TokenID
		}
	}
	return ""
}

// NoToken returns the NO outcome token id, or "" if absent.
func (m Market) NoToken() string {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t.TokenID
		}
	}
	return ""
}
