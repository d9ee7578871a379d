package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/agent/arbitrage"
	"github.com/alanyoungcy/polymarketbot/internal/budget"
	"github.com/alanyoungcy/polymarketbot/internal/cache/redis"
	"github.com/alanyoungcy/polymarketbot/internal/config"
	"github.com/alanyoungcy/polymarketbot/internal/crypto"
	"github.com/alanyoungcy/polymarketbot/internal/domain"
	"github.com/alanyoungcy/polymarketbot/internal/gateway"
	"github.com/alanyoungcy/polymarketbot/internal/ledger"
	"github.com/alanyoungcy/polymarketbot/internal/marketdata"
	"github.com/alanyoungcy/polymarketbot/internal/position"
	"github.com/alanyoungcy/polymarketbot/internal/risk"
	"github.com/alanyoungcy/polymarketbot/internal/signalbus"
	"github.com/alanyoungcy/polymarketbot/internal/supervisor"
)

// janitorSweepInterval bounds how often the reservation Janitor reclaims
// TTL-expired reservations (spec.md §4.4/§4.5).
const janitorSweepInterval = 15 * time.Second

// marketStream wraps one MarketDataStream; Wire takes each agent's YES/NO
// orderbook.Replica from that stream via Stream.Replica.
type marketStream struct {
	stream *marketdata.Stream
}

// Dependencies bundles every wired component the application needs to run
// the swarm: the coordination store, capital ledger/budget manager, signal
// bus, risk controller, position store, market-data streams, gateway
// clients, and the configured ArbitrageAgent instances registered with the
// supervisor.
type Dependencies struct {
	Bus        *signalbus.Bus
	Ledger     *ledger.Ledger
	Budget     *budget.Manager
	Janitor    *ledger.Janitor
	Risk       *risk.Controller
	Positions  *position.Store
	Catalog    *gateway.CatalogClient
	OrderGW    OrderSubmitter
	Streams    []marketStream
	Supervisor *supervisor.Supervisor
}

// OrderSubmitter is the narrow order-entry contract every ArbitrageAgent
// depends on; dryRunGateway and gateway.OrderGateway both satisfy it.
type OrderSubmitter interface {
	Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// dryRunGateway stands in for gateway.OrderGateway under --dry-run: it
// never reaches the network and always reports a full fill at the
// requested limit price, matching the shape of a real OrderResult so the
// rest of the ArbitrageAgent state machine runs unmodified.
type dryRunGateway struct {
	logger *slog.Logger
}

func (d *dryRunGateway) Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	d.logger.InfoContext(ctx, "dry-run: simulated fill",
		slog.String("token_id", order.TokenID), slog.String("side", string(order.Side)),
		slog.String("size", order.Size.String()), slog.String("limit_price", order.LimitPrice.String()))
	return domain.OrderResult{
		OrderID:    "dry-run",
		Status:     domain.OrderStatusFilled,
		FilledSize: order.Size,
		AvgPrice:   order.LimitPrice,
	}, nil
}

// Wire constructs every dependency the swarm needs from cfg and registers
// one ArbitrageAgent per configured, filter-matched market with the
// returned Supervisor. It returns a cleanup function that closes the
// underlying Redis connection; callers must invoke it on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	kv := redis.NewKVStore(redisClient)
	locks := redis.NewLockManager(redisClient)

	led := ledger.New(kv, locks)
	budgetMgr := budget.New(led, locks)
	janitor := ledger.NewJanitor(led, janitorSweepInterval, logger)

	bus := signalbus.New(logger)
	positions := position.New(bus)

	riskCfg := risk.Config{
		MaxPositionSizeUSD:   decimal.NewFromFloat(cfg.Risk.MaxPositionSizeUSD),
		MaxTotalExposureUSD:  decimal.NewFromFloat(cfg.Risk.MaxTotalExposureUSD),
		MaxEntityExposureUSD: decimal.NewFromFloat(cfg.Risk.MaxEntityExposureUSD),
		MaxPositionsPerAgent: cfg.Risk.MaxPositionsPerAgent,
		MaxDailyLossUSD:      decimal.NewFromFloat(cfg.Risk.MaxDailyLossUSD),
		MinSignalQuality:     cfg.Risk.MinSignalQuality,
	}
	riskCtl := risk.New(riskCfg, positions, bus, logger)

	catalog := gateway.NewCatalogClient(cfg.Polymarket.GammaHost, cfg.Catalog.RequestsPerSec)

	var orderSubmitter OrderSubmitter
	if cfg.DryRun {
		orderSubmitter = &dryRunGateway{logger: logger.With(slog.String("component", "dry_run_gateway"))}
	} else {
		hmac := &crypto.HMACAuth{
			Key:        cfg.OrderGW.ApiKey,
			Secret:     cfg.OrderGW.ApiSecret,
			Passphrase: cfg.OrderGW.ApiPassphrase,
		}
		orderSubmitter = gateway.NewOrderGateway(cfg.Polymarket.ClobHost, hmac, cfg.Wallet.Address, cfg.OrderGW.RequestsPerSec)
	}

	sup := supervisor.New(bus, logger).WithGracePeriod(cfg.Supervisor.GracePeriod.Duration)

	allowed := agentFilterSet(cfg.AgentsFilter)

	var streams []marketStream
	arbCfg := arbitrage.Config{
		MinProfitPerUnit: decimal.NewFromFloat(cfg.Arbitrage.MinProfitPerUnit),
		MaxSlippage:      decimal.NewFromFloat(cfg.Arbitrage.MaxSlippage),
		SizeCap:          decimal.NewFromFloat(cfg.Arbitrage.SizeCap),
		FeesPerUnit:      decimal.NewFromFloat(cfg.Arbitrage.FeesPerUnit),
		GasUSD:           decimal.NewFromFloat(cfg.Arbitrage.GasUSD),
		LegRiskTimeout:   cfg.Arbitrage.LegRiskTimeout.Duration,
		ReserveGrace:     cfg.Arbitrage.ReserveGrace.Duration,
		MaxRetries:       cfg.Arbitrage.MaxRetries,
		ClaimTTL:         cfg.Arbitrage.ClaimTTL.Duration,
	}

	for _, mkt := range cfg.Arbitrage.Markets {
		name := "arb:" + mkt.MarketID
		if allowed != nil && !allowed[name] && !allowed[mkt.MarketID] {
			continue
		}

		stream := marketdata.New(cfg.Polymarket.WsHost, []string{mkt.YesTokenID, mkt.NoTokenID}, bus, logger)
		streams = append(streams, marketStream{stream: stream})

		yesBook := stream.Replica(mkt.YesTokenID)
		noBook := stream.Replica(mkt.NoTokenID)

		ag := arbitrage.New(name, cfg.Arbitrage.Strategy, mkt.MarketID, mkt.YesTokenID, mkt.NoTokenID,
			yesBook, noBook, bus, budgetMgr, orderSubmitter, riskCtl, positions, arbCfg, logger)
		sup.Register(name, ag)
	}

	if err := seedAllocations(ctx, led, budgetMgr, cfg); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed allocations: %w", err)
	}

	return &Dependencies{
		Bus:        bus,
		Ledger:     led,
		Budget:     budgetMgr,
		Janitor:    janitor,
		Risk:       riskCtl,
		Positions:  positions,
		Catalog:    catalog,
		OrderGW:    orderSubmitter,
		Streams:    streams,
		Supervisor: sup,
	}, cleanup, nil
}

// seedAllocations bootstraps each configured strategy's available balance
// from its configured fraction of --budget, and the reserve pool from
// ReserveFraction. Seed is idempotent: a strategy balance already present
// in the store (a restart, not a first run) is left untouched, per
// spec.md §6.7's bootstrap-or-preserve semantics.
func seedAllocations(ctx context.Context, led *ledger.Ledger, budgetMgr *budget.Manager, cfg *config.Config) error {
	total := decimal.NewFromFloat(cfg.TotalBudgetUSD)
	if !total.IsPositive() {
		return nil
	}
	for strategy, frac := range cfg.Allocation.Strategies {
		amount := total.Mul(decimal.NewFromFloat(frac))
		if err := led.Seed(ctx, strategy, amount); err != nil {
			return fmt.Errorf("seed %s: %w", strategy, err)
		}
	}
	reserveAmount := total.Mul(decimal.NewFromFloat(cfg.Allocation.ReserveFraction))
	if err := budgetMgr.SeedReserve(ctx, reserveAmount); err != nil {
		return fmt.Errorf("seed reserve: %w", err)
	}
	return nil
}

// validateCatalog cross-checks every configured market's yes/no token ids
// against the live catalog and logs a warning for any mismatch. The
// catalog is advisory discovery input (spec.md §6.1), never authoritative,
// so a failed or mismatched check is logged, never fatal.
func validateCatalog(ctx context.Context, catalog *gateway.CatalogClient, markets []config.MarketWatch, logger *slog.Logger) {
	listed, err := catalog.ListMarkets(ctx, 500)
	if err != nil {
		logger.WarnContext(ctx, "catalog validation: list markets failed", slog.String("error", err.Error()))
		return
	}

	byID := make(map[string]domain.Market, len(listed))
	for _, m := range listed {
		byID[m.ID] = m
	}

	for _, mkt := range markets {
		live, ok := byID[mkt.MarketID]
		if !ok {
			logger.WarnContext(ctx, "catalog validation: configured market not found in live catalog",
				slog.String("market_id", mkt.MarketID))
			continue
		}
		if !hasToken(live.Tokens, mkt.YesTokenID) || !hasToken(live.Tokens, mkt.NoTokenID) {
			logger.WarnContext(ctx, "catalog validation: configured token id not present on live market",
				slog.String("market_id", mkt.MarketID))
		}
	}
}

func hasToken(tokens []domain.MarketToken, tokenID string) bool {
	for _, t := range tokens {
		if t.TokenID == tokenID {
			return true
		}
	}
	return false
}

func agentFilterSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
