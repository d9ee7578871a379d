// Package app wires the swarm coordination substrate's components together
// and runs them until the process is asked to shut down.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polymarketbot/internal/config"
	"github.com/alanyoungcy/polymarketbot/internal/supervisor"
)

// App is the root application object: it owns the wired Dependencies and a
// list of cleanup functions invoked in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New creates a new App from the given configuration and logger. Run must
// be called to actually wire dependencies and start the swarm.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires every dependency, starts the reservation janitor and every
// configured MarketDataStream as background goroutines, and runs the
// AgentSupervisor until ctx is cancelled. It returns once every background
// goroutine has exited.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Bool("dry_run", a.cfg.DryRun),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.deps = deps
	a.closers = append(a.closers, cleanup)

	if len(deps.Supervisor.Names()) == 0 {
		return fmt.Errorf("app: no agents matched the configured --agents filter")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		validateCatalog(gctx, deps.Catalog, a.cfg.Arbitrage.Markets, a.logger)
		return nil
	})

	g.Go(func() error {
		deps.Janitor.Run(gctx)
		return nil
	})

	for _, ms := range deps.Streams {
		stream := ms.stream
		g.Go(func() error {
			if err := stream.Run(gctx); err != nil && gctx.Err() == nil {
				a.logger.ErrorContext(gctx, "market data stream exited", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		return deps.Supervisor.Run(gctx)
	})

	return g.Wait()
}

// QuarantinedAgents returns the names of any agents the AgentSupervisor
// quarantined before Run returned. cmd/swarm uses a non-empty result to
// select its exit code 3 ("supervisor detected an unrecoverable agent").
func (a *App) QuarantinedAgents() []string {
	if a.deps == nil || a.deps.Supervisor == nil {
		return nil
	}
	var names []string
	for _, name := range a.deps.Supervisor.Names() {
		if st, ok := a.deps.Supervisor.Status(name); ok && st == supervisor.StatusQuarantined {
			names = append(names, name)
		}
	}
	return names
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
