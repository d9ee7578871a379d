package config

import (
	"testing"
	"time"
)

func TestApplyEnvOverridesSetsPresentVariables(t *testing.T) {
	cfg := Defaults()

	t.Setenv("POLYBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("POLYBOT_WALLET_PRIVATE_KEY", "0xsecret")
	t.Setenv("POLYBOT_RISK_MAX_DAILY_LOSS_USD", "250.5")
	t.Setenv("POLYBOT_ARBITRAGE_CLAIM_TTL", "45s")
	t.Setenv("POLYBOT_LOG_LEVEL", "debug")

	applyEnvOverrides(&cfg)

	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want override", cfg.Redis.Addr)
	}
	if cfg.Wallet.PrivateKey != "0xsecret" {
		t.Errorf("Wallet.PrivateKey = %q, want override", cfg.Wallet.PrivateKey)
	}
	if cfg.Risk.MaxDailyLossUSD != 250.5 {
		t.Errorf("Risk.MaxDailyLossUSD = %v, want 250.5", cfg.Risk.MaxDailyLossUSD)
	}
	if cfg.Arbitrage.ClaimTTL.Duration != 45*time.Second {
		t.Errorf("Arbitrage.ClaimTTL = %v, want 45s", cfg.Arbitrage.ClaimTTL.Duration)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestApplyEnvOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	cfg := Defaults()
	original := cfg.Redis.Addr

	applyEnvOverrides(&cfg)

	if cfg.Redis.Addr != original {
		t.Errorf("Redis.Addr changed to %q with no env var set, want unchanged %q", cfg.Redis.Addr, original)
	}
}
