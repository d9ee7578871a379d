// Package signalbus implements the in-process pub/sub substrate that
// propagates market intelligence between agents: the SignalBus of
// spec.md §4.1. All state is owned by a single dispatch goroutine; there
// are no locks on the hot delivery path, only on the history/subscriber
// maps and the opportunity-claim table, which callers mutate from their
// own goroutines.
package signalbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// DefaultHistoryLimit is the default per-kind ring buffer length.
const DefaultHistoryLimit = 100

// DefaultCallbackBudget is the soft per-callback time budget; a subscriber
// that runs longer is flagged for the RiskController but not killed.
const DefaultCallbackBudget = 50 * time.Millisecond

// DefaultPublishBuffer sizes the internal dispatch channel. It must be
// large enough that Publish never blocks under the ≤100 signals/sec
// performance contract of spec.md §4.1.
const DefaultPublishBuffer = 4096

// Handler is invoked on the bus's dispatch goroutine for every signal of a
// subscribed kind. It MUST NOT block; a handler that panics is isolated and
// logged, and one that runs past the callback budget is flagged but left
// registered.
type Handler func(ctx context.Context, sig domain.Signal)

// Handle identifies a registration returned by Subscribe, used to
// Unsubscribe later.
type Handle struct {
	kind domain.Kind
	id   uint64
}

type subscriber struct {
	id      uint64
	agentID string
	handler Handler
	slow    atomic.Bool
}

type claimEntry struct {
	agent     string
	claimedAt time.Time
	ttl       time.Duration
}

// Bus is the SignalBus of spec.md §4.1.
type Bus struct {
	logger *slog.Logger

	historyLimit   int
	callbackBudget time.Duration

	mu      sync.RWMutex
	subs    map[domain.Kind][]*subscriber
	history map[domain.Kind][]domain.Signal
	nextID  uint64

	claimMu sync.Mutex
	claims  map[string]claimEntry

	errCount atomic.Int64

	publishCh chan domain.Signal
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithHistoryLimit overrides the default per-kind ring buffer length.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// WithCallbackBudget overrides the default soft per-callback time budget.
func WithCallbackBudget(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.callbackBudget = d
		}
	}
}

// New creates a Bus and starts its dispatch goroutine. Call Close to stop
// it.
func New(logger *slog.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:         logger.With(slog.String("component", "signal_bus")),
		historyLimit:   DefaultHistoryLimit,
		callbackBudget: DefaultCallbackBudget,
		subs:           make(map[domain.Kind][]*subscriber),
		history:        make(map[domain.Kind][]domain.Signal),
		claims:         make(map[string]claimEntry),
		publishCh:      make(chan domain.Signal, DefaultPublishBuffer),
		ctx:            ctx,
		cancel:         cancel,
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Close stops the dispatch goroutine. Pending buffered signals are
// dropped; in-flight deliveries are allowed to complete.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

// Publish appends sig to its per-kind history (evicting the oldest entry
// when the ring buffer is full) and enqueues it for delivery to current
// subscribers of that kind. If the dispatch buffer is full, it delivers
// sig synchronously on the caller's goroutine instead, so only then does
// it wait for subscriber callbacks. It fails only when sig is malformed.
func (b *Bus) Publish(sig domain.Signal) error {
	if sig.Priority == 0 {
		return fmt.Errorf("signalbus: publish: signal has zero priority")
	}
	if sig.Source == "" {
		return fmt.Errorf("signalbus: publish: signal has no source")
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	buf := append(b.history[sig.Kind], sig)
	buf = pruneExpired(buf, time.Now())
	if len(buf) > b.historyLimit {
		buf = buf[len(buf)-b.historyLimit:]
	}
	b.history[sig.Kind] = buf
	b.mu.Unlock()

	select {
	case b.publishCh <- sig:
	case <-b.ctx.Done():
	default:
		// Buffer saturated: still never block the publisher. Deliver
		// synchronously as a last resort so CRITICAL/HIGH signals are
		// never silently lost, matching the back-pressure contract.
		b.deliver(sig)
	}
	return nil
}

func pruneExpired(signals []domain.Signal, now time.Time) []domain.Signal {
	out := signals[:0:0]
	for _, s := range signals {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case sig := <-b.publishCh:
			b.deliver(sig)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) deliver(sig domain.Signal) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[sig.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sig.Priority == domain.PriorityLow && sub.slow.Load() {
			// Back-pressure: drop LOW-priority delivery to an overloaded
			// subscriber. History retention is unaffected.
			continue
		}
		b.invoke(sub, sig)
	}
}

func (b *Bus) invoke(sub *subscriber, sig domain.Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.errCount.Add(1)
			b.logger.Error("subscriber callback panicked",
				slog.String("tag", "SIGNAL:CALLBACK_PANIC"),
				slog.String("agent_id", sub.agentID),
				slog.String("kind", string(sig.Kind)),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	sub.handler(b.ctx, sig)
	elapsed := time.Since(start)
	if elapsed > b.callbackBudget {
		sub.slow.Store(true)
		b.logger.Warn("subscriber callback exceeded budget",
			slog.String("agent_id", sub.agentID),
			slog.String("kind", string(sig.Kind)),
			slog.Duration("elapsed", elapsed),
			slog.Duration("budget", b.callbackBudget),
		)
	} else {
		sub.slow.Store(false)
	}
}

// Subscribe registers handler for future publications of kind. A late
// subscriber does not see history; call Recent for that. Returns a Handle
// for Unsubscribe.
func (b *Bus) Subscribe(kind domain.Kind, agentID string, handler Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], &subscriber{id: id, agentID: agentID, handler: handler})
	return Handle{kind: kind, id: id}
}

// Unsubscribe removes a prior registration. It is idempotent.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[h.kind]
	for i, s := range subs {
		if s.id == h.id {
			b.subs[h.kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// ErrorCount returns the number of subscriber callback panics observed so
// far, for RiskController/observability.
func (b *Bus) ErrorCount() int64 {
	return b.errCount.Load()
}

// Recent returns the unexpired subset of kind's history whose age does not
// exceed window.
func (b *Bus) Recent(kind domain.Kind, window time.Duration) []domain.Signal {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.history[kind]
	out := make([]domain.Signal, 0, len(src))
	for _, s := range src {
		if s.Expired(now) {
			continue
		}
		if s.Age(now) > window {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ClaimOpportunity attempts to record agentID as the sole owner of
// opportunityID. It returns ErrClaimDenied if any agent, agentID included,
// already holds an unexpired claim.
func (b *Bus) ClaimOpportunity(opportunityID, agentID string, ttl time.Duration) error {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()

	now := time.Now()
	if existing, ok := b.claims[opportunityID]; ok {
		if now.Sub(existing.claimedAt) <= existing.ttl {
			return domain.ErrClaimDenied
		}
	}
	b.claims[opportunityID] = claimEntry{agent: agentID, claimedAt: now, ttl: ttl}
	return nil
}

// ReleaseClaim releases agentID's claim on opportunityID, whether the
// opportunity completed successfully or failed. It is a no-op if the claim
// is already absent or held by someone else.
func (b *Bus) ReleaseClaim(opportunityID, agentID string) {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()
	if existing, ok := b.claims[opportunityID]; ok && existing.agent == agentID {
		delete(b.claims, opportunityID)
	}
}
