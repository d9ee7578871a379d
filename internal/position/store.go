// Package position implements an in-memory open/closed position store.
// Every mutation publishes a POSITION_UPDATE signal so other agents and
// the RiskController observe exposure changes without reading this
// store's state directly (spec.md §5 ordering guarantee: a fill is
// visible to others only after its publish).
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

// Store holds every position an agent has opened, keyed by ID.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]domain.Position
	bus   *signalbus.Bus
}

// New creates an empty Store that publishes position changes onto bus.
// bus may be nil for tests that don't care about signal emission.
func New(bus *signalbus.Bus) *Store {
	return &Store{byID: make(map[string]domain.Position), bus: bus}
}

// Open records a new open position and publishes a POSITION_UPDATE.
func (s *Store) Open(ctx context.Context, p domain.Position) domain.Position {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.Status = domain.PositionStatusOpen
	p.CurrentPrice = p.EntryPrice

	s.mu.Lock()
	s.byID[p.ID] = p
	s.mu.Unlock()

	s.publish(p, "")
	return p
}

// UpdatePrice marks a position to market and republishes its current
// unrealized PnL. Returns ok=false if the position is unknown or closed.
func (s *Store) UpdatePrice(ctx context.Context, positionID string, currentPrice decimal.Decimal) (domain.Position, bool) {
	s.mu.Lock()
	p, ok := s.byID[positionID]
	if !ok || p.Status != domain.PositionStatusOpen {
		s.mu.Unlock()
		return domain.Position{}, false
	}
	p.CurrentPrice = currentPrice
	p.UnrealizedPnL = p.MarkToMarket(currentPrice)
	s.byID[positionID] = p
	s.mu.Unlock()

	s.publish(p, "")
	return p, true
}

// Close marks a position closed at exitPrice with reason, realizing its
// PnL, and publishes the final POSITION_UPDATE.
func (s *Store) Close(ctx context.Context, positionID string, exitPrice decimal.Decimal, reason domain.ExitReason) (domain.Position, error) {
	s.mu.Lock()
	p, ok := s.byID[positionID]
	if !ok {
		s.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position: %w: %s", domain.ErrNotFound, positionID)
	}
	if p.Status == domain.PositionStatusClosed {
		s.mu.Unlock()
		return p, nil
	}
	now := time.Now().UTC()
	p.RealizedPnL = p.MarkToMarket(exitPrice)
	p.UnrealizedPnL = decimal.Zero
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = &now
	ep := exitPrice
	p.ExitPrice = &ep
	p.ExitReason = reason
	s.byID[positionID] = p
	s.mu.Unlock()

	s.publish(p, "")
	return p, nil
}

// DenyObservation publishes a zero-size POSITION_UPDATE carrying a denial
// reason for observability, per spec.md §7: "Signal-quality denial / risk
// denial" is attached to a POSITION_UPDATE{size=0}, not surfaced as an
// error.
func (s *Store) DenyObservation(agent, tokenID string, side domain.OrderSide, reason string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(domain.Signal{
		Kind:     domain.KindPositionUpdate,
		Priority: domain.PriorityMedium,
		Source:   agent,
		Payload: domain.PositionUpdatePayload{
			Agent:      agent,
			TokenID:    tokenID,
			Side:       side,
			DenyReason: reason,
		},
	})
}

// Get returns a position by ID.
func (s *Store) Get(positionID string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[positionID]
	return p, ok
}

// OpenPositions returns all currently-open positions for agent.
func (s *Store) OpenPositions(agent string) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Agent == agent && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out
}

// TotalExposure returns the sum of abs(size*currentPrice) across all open
// positions for agent, used by RiskController exposure checks.
func (s *Store) TotalExposure(agent string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.OpenPositions(agent) {
		total = total.Add(p.Size.Mul(p.CurrentPrice).Abs())
	}
	return total
}

func (s *Store) publish(p domain.Position, denyReason string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(domain.Signal{
		Kind:     domain.KindPositionUpdate,
		Priority: domain.PriorityMedium,
		Source:   p.Agent,
		Payload: domain.PositionUpdatePayload{
			Agent:         p.Agent,
			TokenID:       p.TokenID,
			Side:          p.Direction,
			Size:          toFloat(p.Size),
			AvgPrice:      toFloat(p.EntryPrice),
			RealizedPnL:   toFloat(p.RealizedPnL),
			UnrealizedPnL: toFloat(p.UnrealizedPnL),
			DenyReason:    denyReason,
		},
	})
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
