// Package config defines the top-level configuration for the swarm
// coordination substrate and provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYBOT_* environment
// variables and CLI flags (spec.md §6.5/§6.6).
type Config struct {
	Wallet     WalletConfig       `toml:"wallet"`
	Polymarket PolymarketConfig   `toml:"polymarket"`
	Redis      RedisConfig        `toml:"redis"`
	Allocation AllocationConfig   `toml:"allocation"`
	Risk       RiskConfig         `toml:"risk"`
	Arbitrage  ArbitrageConfig    `toml:"arbitrage"`
	Catalog    CatalogConfig      `toml:"catalog"`
	OrderGW    OrderGatewayConfig `toml:"order_gateway"`
	Supervisor SupervisorConfig   `toml:"supervisor"`
	LogLevel   string             `toml:"log_level"`

	// DryRun, AgentsFilter, and TotalBudgetUSD are never read from the TOML
	// file; they are populated from CLI flags by cmd/swarm after Load and
	// before Validate, per spec.md §6.5/§6.7.
	DryRun         bool     `toml:"-"`
	AgentsFilter   []string `toml:"-"`
	TotalBudgetUSD float64  `toml:"-"`
}

// WalletConfig holds the Ethereum wallet credentials used to sign orders
// and to key the CapitalLedger's per-wallet nonce sequence.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds the Polymarket-shaped venue endpoints and chain
// parameters the gateway and market-data clients connect to.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`  // order-entry gateway base URL
	GammaHost     string `toml:"gamma_host"` // market catalog base URL
	WsHost        string `toml:"ws_host"`    // market-data feed base URL
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// RedisConfig holds connection parameters for the coordination key-value
// store (spec.md §6.4). --store-url overrides Addr at startup.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// AllocationConfig is the fixed capital-split policy of spec.md §3
// ("Allocation policy"): a fraction per strategy, summing with
// ReserveFraction to exactly 1. The numbers are configuration, not
// derived — Validate rejects any configuration that does not sum to 1
// rather than silently renormalizing (spec.md §9 Open Question).
type AllocationConfig struct {
	Strategies      map[string]float64 `toml:"strategies"`
	ReserveFraction float64            `toml:"reserve_fraction"`
}

// RiskConfig holds the RiskController's configured limits (spec.md §4.6).
type RiskConfig struct {
	MaxPositionSizeUSD   float64 `toml:"max_position_size_usd"`
	MaxTotalExposureUSD  float64 `toml:"max_total_exposure_usd"`
	MaxEntityExposureUSD float64 `toml:"max_entity_exposure_usd"`
	MaxPositionsPerAgent int     `toml:"max_positions_per_agent"`
	MaxDailyLossUSD      float64 `toml:"max_daily_loss_usd"`
	MinSignalQuality     float64 `toml:"min_signal_quality"`
}

// MarketWatch names one binary market the ArbitrageAgent watches: its two
// outcome token ids, paired as YES/NO replicas fed by MarketDataStream.
type MarketWatch struct {
	MarketID   string `toml:"market_id"`
	Question   string `toml:"question"`
	YesTokenID string `toml:"yes_token_id"`
	NoTokenID  string `toml:"no_token_id"`
}

// ArbitrageConfig holds the ArbitrageAgent's viability and execution
// parameters (spec.md §4.7) and the static watchlist of markets it trades.
// The market catalog (spec.md §6.1) is advisory discovery input only, so a
// configured watchlist — not a live catalog poll — is this substrate's
// source of truth for which markets the agent instantiates.
type ArbitrageConfig struct {
	Strategy         string        `toml:"strategy"` // ledger/budget strategy name, e.g. "arb"
	MinProfitPerUnit float64       `toml:"min_profit_per_unit"`
	MaxSlippage      float64       `toml:"max_slippage"`
	SizeCap          float64       `toml:"size_cap"`
	FeesPerUnit      float64       `toml:"fees_per_unit"`
	GasUSD           float64       `toml:"gas_usd"`
	LegRiskTimeout   duration      `toml:"leg_risk_timeout"`
	ReserveGrace     duration      `toml:"reserve_grace"`
	ClaimTTL         duration      `toml:"claim_ttl"`
	MaxRetries       int           `toml:"max_retries"`
	Markets          []MarketWatch `toml:"markets"`
}

// CatalogConfig bounds outbound pacing to the read-only market catalog
// (spec.md §6.1); it requires no credentials.
type CatalogConfig struct {
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// OrderGatewayConfig holds the order-entry gateway's API credentials
// (HMAC key/secret/passphrase, spec.md §6.2/§6.6) and outbound pacing.
type OrderGatewayConfig struct {
	ApiKey         string  `toml:"api_key"`
	ApiSecret      string  `toml:"api_secret"`
	ApiPassphrase  string  `toml:"api_passphrase"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// SupervisorConfig holds the AgentSupervisor's shutdown grace period
// (spec.md §4.8). The restart backoff and quarantine window are fixed
// spec constants, not configuration.
type SupervisorConfig struct {
	GracePeriod duration `toml:"grace_period"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values for
// every section; a loaded TOML file overrides only the fields it sets.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Allocation: AllocationConfig{
			Strategies: map[string]float64{
				"arb":      0.35,
				"stat_arb": 0.30,
				"whale":    0.25,
			},
			ReserveFraction: 0.10,
		},
		Risk: RiskConfig{
			MaxPositionSizeUSD:   500,
			MaxTotalExposureUSD:  5000,
			MaxEntityExposureUSD: 2000,
			MaxPositionsPerAgent: 10,
			MaxDailyLossUSD:      100,
			MinSignalQuality:     0.3,
		},
		Arbitrage: ArbitrageConfig{
			Strategy:         "arb",
			MinProfitPerUnit: 0.02,
			MaxSlippage:      0.02,
			SizeCap:          50,
			FeesPerUnit:      0,
			GasUSD:           0,
			LegRiskTimeout:   duration{5 * time.Second},
			ReserveGrace:     duration{10 * time.Second},
			ClaimTTL:         duration{30 * time.Second},
			MaxRetries:       3,
		},
		Catalog: CatalogConfig{RequestsPerSec: 5},
		OrderGW: OrderGatewayConfig{RequestsPerSec: 10},
		Supervisor: SupervisorConfig{
			GracePeriod: duration{30 * time.Second},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const allocationEpsilon = 1e-9

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if err := c.Allocation.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Risk.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "risk: max_position_size_usd must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "risk: max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxEntityExposureUSD <= 0 {
		errs = append(errs, "risk: max_entity_exposure_usd must be > 0")
	}
	if c.Risk.MaxPositionsPerAgent < 1 {
		errs = append(errs, "risk: max_positions_per_agent must be >= 1")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be > 0")
	}
	if c.Risk.MinSignalQuality < 0 || c.Risk.MinSignalQuality > 1 {
		errs = append(errs, "risk: min_signal_quality must be in [0,1]")
	}

	if c.Arbitrage.Strategy == "" {
		errs = append(errs, "arbitrage: strategy must name an allocation strategy")
	} else if _, ok := c.Allocation.Strategies[c.Arbitrage.Strategy]; !ok {
		errs = append(errs, fmt.Sprintf("arbitrage: strategy %q has no entry in allocation.strategies", c.Arbitrage.Strategy))
	}
	if c.Arbitrage.MinProfitPerUnit < 0 {
		errs = append(errs, "arbitrage: min_profit_per_unit must be >= 0")
	}
	if c.Arbitrage.MaxSlippage <= 0 || c.Arbitrage.MaxSlippage > 1 {
		errs = append(errs, "arbitrage: max_slippage must be in (0,1]")
	}
	if c.Arbitrage.SizeCap < 0 {
		errs = append(errs, "arbitrage: size_cap must be >= 0")
	}
	if c.Arbitrage.MaxRetries < 1 {
		errs = append(errs, "arbitrage: max_retries must be >= 1")
	}
	if len(c.Arbitrage.Markets) == 0 {
		errs = append(errs, "arbitrage: at least one market must be configured")
	}
	for i, m := range c.Arbitrage.Markets {
		if m.MarketID == "" {
			errs = append(errs, fmt.Sprintf("arbitrage.markets[%d]: market_id must not be empty", i))
		}
		if m.YesTokenID == "" || m.NoTokenID == "" {
			errs = append(errs, fmt.Sprintf("arbitrage.markets[%d]: yes_token_id and no_token_id must not be empty", i))
		}
		if m.YesTokenID != "" && m.YesTokenID == m.NoTokenID {
			errs = append(errs, fmt.Sprintf("arbitrage.markets[%d]: yes_token_id and no_token_id must differ", i))
		}
	}

	if c.OrderGW.ApiKey == "" && c.OrderGW.ApiSecret == "" && c.OrderGW.ApiPassphrase == "" {
		errs = append(errs, "order_gateway: api_key, api_secret, and api_passphrase must be set")
	} else if c.OrderGW.ApiKey == "" || c.OrderGW.ApiSecret == "" || c.OrderGW.ApiPassphrase == "" {
		errs = append(errs, "order_gateway: api_key, api_secret, and api_passphrase must all be set together")
	}

	if c.Supervisor.GracePeriod.Duration <= 0 {
		errs = append(errs, "supervisor: grace_period must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks that the allocation fractions plus the reserve fraction
// sum to exactly 1 (within floating-point tolerance), per spec.md §9's
// binding Open Question resolution: reject, never silently renormalize.
func (a AllocationConfig) validate() error {
	if len(a.Strategies) == 0 {
		return fmt.Errorf("allocation: at least one strategy fraction must be configured")
	}
	sum := a.ReserveFraction
	for name, frac := range a.Strategies {
		if frac <= 0 {
			return fmt.Errorf("allocation: strategy %q fraction must be > 0", name)
		}
		sum += frac
	}
	if math.Abs(sum-1.0) > allocationEpsilon {
		return fmt.Errorf("allocation: %w (got %.10f)", domain.ErrInvalidAllocation, sum)
	}
	return nil
}
