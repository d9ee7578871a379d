// Package marketdata implements the MarketDataStream of spec.md §4.3: a
// single WebSocket connection subscribed to up to 500 assets, dispatching
// book/price_change events into per-asset OrderBookReplica instances and
// deriving MARKET_STATE signals for the bus.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/orderbook"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

// State is the MarketDataStream lifecycle state of spec.md §4.3:
// IDLE → CONNECTING → SUBSCRIBED → {STREAMING ⇄ RESYNCING} → CLOSED.
type State string

const (
	StateIdle        State = "IDLE"
	StateConnecting  State = "CONNECTING"
	StateSubscribed  State = "SUBSCRIBED"
	StateStreaming   State = "STREAMING"
	StateResyncing   State = "RESYNCING"
	StateClosed      State = "CLOSED"
)

const (
	pingInterval       = 20 * time.Second
	pongTimeout        = 2 * pingInterval
	handshakeTimeout   = 15 * time.Second
	writeWait          = 10 * time.Second
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Stream owns one WebSocket connection and the replicas for the asset set
// it was constructed with.
type Stream struct {
	wsURL    string
	assetIDs []string
	bus      *signalbus.Bus
	logger   *slog.Logger

	mu       sync.RWMutex
	state    State
	replicas map[string]*orderbook.Replica
	pending  map[string]bool // assets awaiting a fresh snapshot this (re)connect

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New creates a Stream that will subscribe to assetIDs once Run is called.
func New(wsURL string, assetIDs []string, bus *signalbus.Bus, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		bus:      bus,
		logger:   logger.With(slog.String("component", "marketdata")),
		state:    StateIdle,
		replicas: make(map[string]*orderbook.Replica),
		pending:  make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Replica returns the replica for assetID, creating an empty one if this
// is the first reference to it.
func (s *Stream) Replica(assetID string) *orderbook.Replica {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replicas[assetID]
	if !ok {
		r = orderbook.New(assetID)
		s.replicas[assetID] = r
	}
	return r
}

// Run connects, subscribes, and streams until ctx is cancelled,
// reconnecting with exponential backoff (base 1s, max 30s) on every
// disconnect.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.assetIDs) == 0 {
		s.logger.Info("no assets to subscribe, exiting")
		return nil
	}
	backoff := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return ctx.Err()
		}
		s.setState(StateConnecting)
		subscribed, err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return ctx.Err()
		}
		s.logger.Warn("marketdata stream disconnected, reconnecting",
			slog.String("error", errString(err)), slog.Duration("backoff", backoff))
		if subscribed {
			backoff = reconnectBaseDelay
		}
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMaxDelay {
			backoff = reconnectMaxDelay
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type subscribeMessage struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type inboundEnvelope struct {
	Type    string      `json:"type"`
	AssetID string      `json:"asset_id"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
	Side    string      `json:"side"`
	Price   string      `json:"price"`
	Size    string      `json:"size"`
}

// connectAndServe performs one connection attempt: dial, subscribe, then
// block on the read/ping loops until either fails. subscribed reports
// whether the subscribe message was sent successfully, used by Run to
// decide whether to reset the backoff.
func (s *Stream) connectAndServe(ctx context.Context) (subscribed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("marketdata: dial: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer conn.Close()

	sub := subscribeMessage{Type: "market", AssetsIDs: s.assetIDs}
	if err := s.writeJSON(sub); err != nil {
		return false, fmt.Errorf("marketdata: subscribe: %w", err)
	}
	s.setState(StateSubscribed)

	s.mu.Lock()
	s.pending = make(map[string]bool, len(s.assetIDs))
	for _, a := range s.assetIDs {
		s.pending[a] = true
	}
	s.mu.Unlock()
	s.setState(StateResyncing)

	errCh := make(chan error, 2)
	lastRecv := make(chan time.Time, 1)
	lastRecv <- time.Now()

	go s.readLoop(conn, errCh, lastRecv)
	go s.pingLoop(ctx, conn, errCh, lastRecv)

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case err := <-errCh:
		return true, err
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("marketdata: no connection")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Stream) readLoop(conn *websocket.Conn, errCh chan<- error, lastRecv chan time.Time) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("marketdata: read: %w", err)
			return
		}
		drainTime(lastRecv)
		lastRecv <- time.Now()
		s.handleRaw(raw)
	}
}

func drainTime(ch chan time.Time) {
	select {
	case <-ch:
	default:
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error, lastRecv chan time.Time) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var last time.Time
			select {
			case last = <-lastRecv:
				lastRecv <- last
			default:
				last = time.Now()
			}
			if time.Since(last) > pongTimeout {
				errCh <- fmt.Errorf("marketdata: no message within %s, assuming dead connection", pongTimeout)
				return
			}
			if err := s.writeJSON(map[string]string{"type": "ping"}); err != nil {
				errCh <- fmt.Errorf("marketdata: ping: %w", err)
				return
			}
		}
	}
}

func (s *Stream) handleRaw(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil || len(batch) == 0 {
		s.handleOne(raw)
		return
	}
	for _, item := range batch {
		s.handleOne(item)
	}
}

func (s *Stream) handleOne(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.publishProtocolViolation(fmt.Sprintf("malformed message: %v", err))
		return
	}
	switch env.Type {
	case "book":
		s.handleBook(env)
	case "price_change":
		s.handlePriceChange(env)
	case "ping", "pong":
		// liveness only; readLoop already refreshed lastRecv.
	default:
		s.logger.Warn("marketdata: unrecognized message type", slog.String("type", env.Type))
	}
}

func (s *Stream) handleBook(env inboundEnvelope) {
	repl := s.Replica(env.AssetID)
	repl.ApplySnapshot(domain.OrderbookSnapshot{
		AssetID:   env.AssetID,
		Bids:      toLevels(env.Bids),
		Asks:      toLevels(env.Asks),
		Timestamp: time.Now().UTC(),
	})

	s.mu.Lock()
	delete(s.pending, env.AssetID)
	allResynced := len(s.pending) == 0
	s.mu.Unlock()
	if allResynced {
		s.setState(StateStreaming)
	}
	s.publishMarketState(env.AssetID, repl)
}

func (s *Stream) handlePriceChange(env inboundEnvelope) {
	s.mu.RLock()
	resyncing := s.state == StateResyncing && s.pending[env.AssetID]
	s.mu.RUnlock()
	if resyncing {
		return
	}

	repl := s.Replica(env.AssetID)
	price, err := decimal.NewFromString(env.Price)
	if err != nil {
		s.publishProtocolViolation(fmt.Sprintf("malformed price_change price: %v", err))
		return
	}
	size, err := decimal.NewFromString(env.Size)
	if err != nil {
		s.publishProtocolViolation(fmt.Sprintf("malformed price_change size: %v", err))
		return
	}
	repl.ApplyDelta(domain.PriceChange{
		AssetID:   env.AssetID,
		Side:      domain.Side(env.Side),
		Price:     price,
		Size:      size,
		Timestamp: time.Now().UTC(),
	})
	s.publishMarketState(env.AssetID, repl)
}

func toLevels(wire []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(wire))
	for _, w := range wire {
		p, err := decimal.NewFromString(w.Price)
		if err != nil {
			continue
		}
		sz, err := decimal.NewFromString(w.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: sz})
	}
	return out
}

func (s *Stream) publishMarketState(assetID string, repl *orderbook.Replica) {
	if s.bus == nil {
		return
	}
	q := repl.Quote()
	bids, asks := repl.Depth(5)
	sample := append(append([]domain.PriceLevel{}, bids...), asks...)
	_ = s.bus.Publish(domain.Signal{
		Kind:     domain.KindMarketState,
		Priority: domain.PriorityMedium,
		Source:   "marketdata",
		Payload: domain.MarketStatePayload{
			TokenID:     assetID,
			BestBid:     q.BestBid.String(),
			BestAsk:     q.BestAsk.String(),
			Mid:         q.Mid.String(),
			DepthSample: sample,
		},
	})
}

func (s *Stream) publishProtocolViolation(reason string) {
	s.logger.Error("marketdata: protocol violation", slog.String("reason", reason))
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(domain.Signal{
		Kind:     domain.KindRiskAlert,
		Priority: domain.PriorityHigh,
		Source:   "marketdata",
		Payload: domain.RiskAlertPayload{
			Severity: domain.SeverityHigh,
			Scope:    domain.RiskScopeAgent,
			Reason:   reason,
		},
	})
}
