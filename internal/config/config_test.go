package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.OrderGW.ApiKey = "key"
	cfg.OrderGW.ApiSecret = "secret"
	cfg.OrderGW.ApiPassphrase = "pass"
	cfg.Arbitrage.Markets = []MarketWatch{
		{MarketID: "m1", YesTokenID: "yes1", NoTokenID: "no1"},
	}
	return cfg
}

func TestValidateAcceptsDefaultsPlusRequiredSecrets(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingWalletCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate: expected error for missing wallet credentials")
	}
}

func TestValidateRejectsAllocationNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Allocation.Strategies["arb"] = 0.5 // defaults sum to 1.00; this alone pushes the total over it
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate: expected error for allocation not summing to 1")
	}
	if !errors.Is(err, domain.ErrInvalidAllocation) {
		t.Fatalf("Validate error = %v, want wrapping domain.ErrInvalidAllocation", err)
	}
}

func TestValidateRejectsArbitrageStrategyNotInAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.Arbitrage.Strategy = "nonexistent"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate: expected error for arbitrage.strategy with no allocation entry")
	}
}

func TestValidateRejectsEmptyMarketWatchlist(t *testing.T) {
	cfg := validConfig()
	cfg.Arbitrage.Markets = nil
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one market") {
		t.Fatalf("Validate error = %v, want complaint about empty market list", err)
	}
}

func TestValidateRejectsDuplicateYesNoTokenIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Arbitrage.Markets[0].NoTokenID = cfg.Arbitrage.Markets[0].YesTokenID
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate: expected error when yes_token_id == no_token_id")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate: expected error for unknown log_level")
	}
}
