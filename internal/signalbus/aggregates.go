package signalbus

import (
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

const (
	newsWindow       = 60 * time.Minute
	whaleWindow      = 30 * time.Minute
	scanNewsWindow   = 15 * time.Minute
	scanWhaleWindow  = 30 * time.Minute
)

// GetGlobalSentiment returns the most recently published global sentiment
// reading, or ok=false if none has been seen yet.
func (b *Bus) GetGlobalSentiment() (domain.GlobalSentimentPayload, bool) {
	recent := b.Recent(domain.KindGlobalSentiment, 24*time.Hour)
	if len(recent) == 0 {
		return domain.GlobalSentimentPayload{}, false
	}
	latest := recent[len(recent)-1]
	p, ok := latest.Payload.(domain.GlobalSentimentPayload)
	return p, ok
}

// GetHotTokens returns up to n of the most recently published HOT_TOKEN
// payloads, most recent first.
func (b *Bus) GetHotTokens(n int) []domain.HotTokenPayload {
	recent := b.Recent(domain.KindHotToken, 24*time.Hour)
	out := make([]domain.HotTokenPayload, 0, n)
	for i := len(recent) - 1; i >= 0 && len(out) < n; i-- {
		if p, ok := recent[i].Payload.(domain.HotTokenPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetWhaleMoves returns WHALE_MOVE payloads published within window.
func (b *Bus) GetWhaleMoves(window time.Duration) []domain.WhaleMovePayload {
	recent := b.Recent(domain.KindWhaleMove, window)
	out := make([]domain.WhaleMovePayload, 0, len(recent))
	for _, s := range recent {
		if p, ok := s.Payload.(domain.WhaleMovePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetNewsEvents returns NEWS_EVENT payloads published within window.
func (b *Bus) GetNewsEvents(window time.Duration) []domain.NewsEventPayload {
	recent := b.Recent(domain.KindNewsEvent, window)
	out := make([]domain.NewsEventPayload, 0, len(recent))
	for _, s := range recent {
		if p, ok := s.Payload.(domain.NewsEventPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func mentionsEntity(entities []string, entity string) bool {
	for _, e := range entities {
		if strings.EqualFold(e, entity) {
			return true
		}
	}
	return false
}

func hotTokenMentions(p domain.HotTokenPayload, entity string) bool {
	return strings.Contains(strings.ToLower(p.MarketName), strings.ToLower(entity)) ||
		strings.EqualFold(p.TokenID, entity) ||
		strings.EqualFold(p.MarketID, entity)
}

func whaleMentions(p domain.WhaleMovePayload, entity string) bool {
	return strings.EqualFold(p.Entity, entity) ||
		strings.EqualFold(p.TokenID, entity) ||
		strings.EqualFold(p.MarketID, entity)
}

// SignalStrength computes the composite signal_strength(entity) aggregate of
// spec.md §4.1: a weighted blend of recent news sentiment, whale-flow
// imbalance, current global sentiment, and hot-token presence, clamped to
// [-1, 1].
func (b *Bus) SignalStrength(entity string) float64 {
	var newsComponent float64
	news := b.GetNewsEvents(newsWindow)
	var newsMatches int
	for _, n := range news {
		if mentionsEntity(n.Entities, entity) {
			newsComponent += n.Sentiment * n.Confidence
			newsMatches++
		}
	}
	if newsMatches > 0 {
		newsComponent /= float64(newsMatches)
	}

	var buyUSD, sellUSD float64
	for _, w := range b.GetWhaleMoves(whaleWindow) {
		if !whaleMentions(w, entity) {
			continue
		}
		switch w.Side {
		case domain.WhaleSideBuy:
			buyUSD += w.USDAmount
		case domain.WhaleSideSell:
			sellUSD += w.USDAmount
		}
	}
	var whaleComponent float64
	if total := buyUSD + sellUSD; total > 0 {
		whaleComponent = (buyUSD - sellUSD) / total
	}

	var sentimentComponent float64
	if gs, ok := b.GetGlobalSentiment(); ok {
		sentimentComponent = gs.Score
	}

	var hotTokenComponent float64
	for _, h := range b.GetHotTokens(50) {
		if hotTokenMentions(h, entity) {
			hotTokenComponent = 1
			break
		}
	}

	strength := 0.4*newsComponent + 0.3*whaleComponent + 0.2*sentimentComponent + 0.1*hotTokenComponent
	return clamp(strength, -1, 1)
}

// PositionMultiplier derives position_multiplier(entity) from
// SignalStrength: muted near zero, amplified as conviction grows, always
// within [0.5, 2.0].
func (b *Bus) PositionMultiplier(entity string) float64 {
	abs := math.Abs(b.SignalStrength(entity))
	var mult float64
	switch {
	case abs > 0.7:
		mult = 1.5 + (abs-0.7)*(0.5/0.3)
	case abs < 0.3:
		mult = 0.5 + (abs/0.3)*0.5
	default:
		mult = 1.0
	}
	return clamp(mult, 0.5, 2.0)
}

// ShouldIncreaseScanFrequency reports whether entity currently warrants
// tighter agent polling: a recent high-impact news event, a recent whale
// move, or membership in the current hot-token set.
func (b *Bus) ShouldIncreaseScanFrequency(entity string) bool {
	for _, n := range b.GetNewsEvents(scanNewsWindow) {
		if n.Impact == domain.ImpactHigh && mentionsEntity(n.Entities, entity) {
			return true
		}
	}
	for _, w := range b.GetWhaleMoves(scanWhaleWindow) {
		if whaleMentions(w, entity) {
			return true
		}
	}
	for _, h := range b.GetHotTokens(50) {
		if hotTokenMentions(h, entity) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
