// Command swarm is the entry point for the prediction-market trading
// swarm. It loads configuration, applies CLI overrides, wires every
// component, and runs the AgentSupervisor until shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/polymarketbot/internal/app"
	"github.com/alanyoungcy/polymarketbot/internal/config"
)

// Exit codes per the operator contract: 0 normal shutdown, 2 configuration
// error, 3 the supervisor quarantined an agent (an unrecoverable
// coordination fault), 130 SIGINT.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitSupervisorFail = 3
	exitSIGINT         = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "simulate order submission instead of reaching the live gateway")
	budgetUSD := flag.Float64("budget", 0, "total capital (USD) to bootstrap across configured strategies on first run")
	agentsList := flag.String("agents", "", "comma-separated list of agent names to run (default: all configured markets)")
	storeURL := flag.String("store-url", "", "override redis.addr from the config file")
	verbose := flag.Bool("verbose", false, "set log level to debug regardless of config")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return exitConfigError
	}

	cfg.DryRun = *dryRun
	cfg.TotalBudgetUSD = *budgetUSD
	if *agentsList != "" {
		cfg.AgentsFilter = splitAndTrim(*agentsList)
	}
	if *storeURL != "" {
		cfg.Redis.Addr = *storeURL
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitConfigError
	}

	logger.Info("swarm starting",
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("config", *configPath),
		slog.Any("agents_filter", cfg.AgentsFilter),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)

	if quarantined := application.QuarantinedAgents(); len(quarantined) > 0 {
		logger.Error("supervisor quarantined agents, exiting", slog.Any("agents", quarantined))
		return exitSupervisorFail
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Info("swarm shut down on signal")
			return exitSIGINT
		}
		logger.Error("swarm exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfigError
	}

	if ctx.Err() != nil {
		logger.Info("swarm shut down on signal")
		return exitSIGINT
	}

	logger.Info("swarm stopped")
	return exitOK
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
