package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Order gateway
	out.OrderGW = cfg.OrderGW
	redact(&out.OrderGW.ApiSecret)
	redact(&out.OrderGW.ApiPassphrase)

	// Copy maps/slices so mutations to the redacted copy do not affect the
	// original.
	if cfg.Allocation.Strategies != nil {
		out.Allocation.Strategies = make(map[string]float64, len(cfg.Allocation.Strategies))
		for k, v := range cfg.Allocation.Strategies {
			out.Allocation.Strategies[k] = v
		}
	}
	if cfg.Arbitrage.Markets != nil {
		out.Arbitrage.Markets = make([]MarketWatch, len(cfg.Arbitrage.Markets))
		copy(out.Arbitrage.Markets, cfg.Arbitrage.Markets)
	}
	if cfg.AgentsFilter != nil {
		out.AgentsFilter = make([]string, len(cfg.AgentsFilter))
		copy(out.AgentsFilter, cfg.AgentsFilter)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
