// Package supervisor implements the AgentSupervisor of spec.md §4.8: agent
// lifecycle management on top of one errgroup-cancelled goroutine group,
// with heartbeat-driven crash restart and a graceful shutdown grace period.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
)

// Runnable is anything the supervisor can run and watch. An agent's Run
// blocks until ctx is cancelled or it fails; Heartbeats reports liveness on
// a side channel, independent of Run's own goroutine.
type Runnable interface {
	Run(ctx context.Context) error
	Heartbeats() <-chan time.Time
}

const (
	heartbeatInterval = 10 * time.Second
	missedHeartbeats  = 2 // two missed intervals triggers a restart

	restartBaseDelay = 5 * time.Second
	restartMaxDelay  = 60 * time.Second

	maxRestartsPerWindow = 5
	restartWindow        = 15 * time.Minute

	defaultGracePeriod = 30 * time.Second
)

// Status is an agent's current supervised lifecycle state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusRestarting  Status = "restarting"
	StatusQuarantined Status = "quarantined"
	StatusStopped     Status = "stopped"
)

type restartEvent struct{ at time.Time }

type managedAgent struct {
	name    string
	runnable Runnable

	mu       sync.Mutex
	status   Status
	restarts []restartEvent
	lastBeat time.Time
}

// Supervisor runs a named set of agents, restarting any that miss their
// heartbeat or exit with an error, and quarantining ones that restart too
// often in a short window.
type Supervisor struct {
	bus    *signalbus.Bus
	logger *slog.Logger

	gracePeriod time.Duration

	mu     sync.Mutex
	agents map[string]*managedAgent
}

// New creates a Supervisor publishing RISK_ALERT on quarantine events via
// bus.
func New(bus *signalbus.Bus, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		bus:         bus,
		logger:      logger.With(slog.String("component", "agent_supervisor")),
		gracePeriod: defaultGracePeriod,
		agents:      make(map[string]*managedAgent),
	}
}

// WithGracePeriod overrides the default 30s shutdown grace period.
func (s *Supervisor) WithGracePeriod(d time.Duration) *Supervisor {
	if d > 0 {
		s.gracePeriod = d
	}
	return s
}

// Register adds an agent under name. Call before Run.
func (s *Supervisor) Register(name string, r Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[name] = &managedAgent{name: name, runnable: r, status: StatusStopped}
}

// Names returns the registered agent names in sorted order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agents))
	for n := range s.agents {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Status reports one agent's current lifecycle status.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	a, ok := s.agents[name]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, true
}

// Run starts every registered agent under one errgroup and blocks until ctx
// is cancelled. On cancellation it broadcasts shutdown, waits up to the
// grace period for agents to exit, and returns once every agent's watcher
// goroutine has returned (always nil: a supervised agent's own crashes are
// handled internally, never propagated as a group-fatal error).
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	managed := make([]*managedAgent, 0, len(s.agents))
	for _, a := range s.agents {
		managed = append(managed, a)
	}
	s.mu.Unlock()

	for _, a := range managed {
		a := a
		g.Go(func() error {
			s.watch(gctx, a)
			return nil
		})
	}

	err := g.Wait()
	s.shutdown()
	return err
}

// shutdown logs the end of supervision. The grace-period wait for each
// agent happens in watch; by the time shutdown runs every watcher has
// returned.
func (s *Supervisor) shutdown() {
	s.logger.Info("supervisor shutdown: broadcasting cancellation",
		slog.Duration("grace_period", s.gracePeriod))
	time.Sleep(0) // agents observe cancellation via their own ctx; nothing further to coordinate here.
}

// watch runs one agent, restarting it on crash or missed heartbeat with
// exponential backoff, quarantining it after too many restarts in the
// trailing window.
func (s *Supervisor) watch(ctx context.Context, a *managedAgent) {
	delay := restartBaseDelay
	for {
		if ctx.Err() != nil {
			a.setStatus(StatusStopped)
			return
		}

		a.setStatus(StatusRunning)
		a.recordBeat(time.Now())

		runCtx, cancel := context.WithCancel(ctx)
		runErrCh := make(chan error, 1)
		go func() {
			runErrCh <- a.runnable.Run(runCtx)
		}()

		missed := s.monitorHeartbeats(runCtx, a)

		var runErr error
		select {
		case runErr = <-runErrCh:
		case <-missed:
			runErr = fmt.Errorf("agent %s: missed heartbeat", a.name)
		case <-ctx.Done():
			select {
			case runErr = <-runErrCh:
			case <-time.After(s.gracePeriod):
				s.logger.Warn("agent did not exit within grace period",
					slog.String("agent", a.name), slog.Duration("grace_period", s.gracePeriod))
			}
		}
		cancel()
		<-drainErr(runErrCh)

		if ctx.Err() != nil {
			a.setStatus(StatusStopped)
			return
		}
		if runErr == nil {
			a.setStatus(StatusStopped)
			return
		}

		s.logger.Warn("agent exited, scheduling restart",
			slog.String("agent", a.name), slog.String("error", runErr.Error()))

		if a.restartCountInWindow(time.Now()) >= maxRestartsPerWindow {
			s.quarantine(a, runErr)
			return
		}

		a.setStatus(StatusRestarting)
		a.recordRestart(time.Now())

		jitter := time.Duration(rand.Int63n(int64(time.Second)))
		select {
		case <-ctx.Done():
			a.setStatus(StatusStopped)
			return
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > restartMaxDelay {
			delay = restartMaxDelay
		}
	}
}

// drainErr returns an already-closed channel, so receiving from it never
// blocks; it does not read from ch. runErrCh has a buffer of 1, so a Run
// that returns after watch stopped waiting never blocks on its send.
func drainErr(ch chan error) <-chan struct{} {
	out := make(chan struct{})
	close(out)
	return out
}

// monitorHeartbeats returns a channel that fires once the agent misses
// missedHeartbeats consecutive intervals.
func (s *Supervisor) monitorHeartbeats(ctx context.Context, a *managedAgent) <-chan struct{} {
	missed := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case beat := <-a.runnable.Heartbeats():
				a.recordBeat(beat)
			case <-ticker.C:
				if time.Since(a.lastHeartbeat()) > time.Duration(missedHeartbeats)*heartbeatInterval {
					select {
					case missed <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()
	return missed
}

func (s *Supervisor) quarantine(a *managedAgent, cause error) {
	a.setStatus(StatusQuarantined)
	s.logger.Error("agent quarantined after repeated restarts",
		slog.String("tag", "CB:TRIPPED"), slog.String("agent", a.name), slog.String("cause", cause.Error()))
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(domain.Signal{
		Kind:     domain.KindRiskAlert,
		Priority: domain.PriorityCritical,
		Source:   "agent_supervisor",
		Payload: domain.RiskAlertPayload{
			Severity: domain.SeverityCritical,
			Scope:    domain.RiskScopeAgent,
			Reason:   fmt.Sprintf("agent %s quarantined: %d restarts within %s", a.name, maxRestartsPerWindow, restartWindow),
		},
	})
}

func (a *managedAgent) setStatus(st Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = st
}

func (a *managedAgent) recordBeat(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastBeat = t
}

func (a *managedAgent) lastHeartbeat() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastBeat
}

func (a *managedAgent) recordRestart(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarts = append(a.restarts, restartEvent{at: t})
}

func (a *managedAgent) restartCountInWindow(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.restarts[:0:0]
	count := 0
	for _, r := range a.restarts {
		if now.Sub(r.at) <= restartWindow {
			kept = append(kept, r)
			count++
		}
	}
	a.restarts = kept
	return count
}
