package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file (spec.md §6.6: core never reads secrets from disk).
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Address, "POLYBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSizeUSD, "POLYBOT_RISK_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "POLYBOT_RISK_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Risk.MaxEntityExposureUSD, "POLYBOT_RISK_MAX_ENTITY_EXPOSURE_USD")
	setInt(&cfg.Risk.MaxPositionsPerAgent, "POLYBOT_RISK_MAX_POSITIONS_PER_AGENT")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "POLYBOT_RISK_MAX_DAILY_LOSS_USD")
	setFloat64(&cfg.Risk.MinSignalQuality, "POLYBOT_RISK_MIN_SIGNAL_QUALITY")

	// ── Arbitrage ──
	setStr(&cfg.Arbitrage.Strategy, "POLYBOT_ARBITRAGE_STRATEGY")
	setFloat64(&cfg.Arbitrage.MinProfitPerUnit, "POLYBOT_ARBITRAGE_MIN_PROFIT_PER_UNIT")
	setFloat64(&cfg.Arbitrage.MaxSlippage, "POLYBOT_ARBITRAGE_MAX_SLIPPAGE")
	setFloat64(&cfg.Arbitrage.SizeCap, "POLYBOT_ARBITRAGE_SIZE_CAP")
	setFloat64(&cfg.Arbitrage.FeesPerUnit, "POLYBOT_ARBITRAGE_FEES_PER_UNIT")
	setFloat64(&cfg.Arbitrage.GasUSD, "POLYBOT_ARBITRAGE_GAS_USD")
	setDuration(&cfg.Arbitrage.LegRiskTimeout, "POLYBOT_ARBITRAGE_LEG_RISK_TIMEOUT")
	setDuration(&cfg.Arbitrage.ReserveGrace, "POLYBOT_ARBITRAGE_RESERVE_GRACE")
	setDuration(&cfg.Arbitrage.ClaimTTL, "POLYBOT_ARBITRAGE_CLAIM_TTL")
	setInt(&cfg.Arbitrage.MaxRetries, "POLYBOT_ARBITRAGE_MAX_RETRIES")

	// ── Catalog ──
	setFloat64(&cfg.Catalog.RequestsPerSec, "POLYBOT_CATALOG_REQUESTS_PER_SEC")

	// ── Order gateway ──
	setStr(&cfg.OrderGW.ApiKey, "POLYBOT_ORDER_GATEWAY_API_KEY")
	setStr(&cfg.OrderGW.ApiSecret, "POLYBOT_ORDER_GATEWAY_API_SECRET")
	setStr(&cfg.OrderGW.ApiPassphrase, "POLYBOT_ORDER_GATEWAY_API_PASSPHRASE")
	setFloat64(&cfg.OrderGW.RequestsPerSec, "POLYBOT_ORDER_GATEWAY_REQUESTS_PER_SEC")

	// ── Supervisor ──
	setDuration(&cfg.Supervisor.GracePeriod, "POLYBOT_SUPERVISOR_GRACE_PERIOD")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
