package config

import "testing"

func TestRedactedConfigHidesSecretsWithoutMutatingOriginal(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0xsecretkey"
	cfg.Redis.Password = "swordfish"
	cfg.OrderGW.ApiSecret = "topsecret"

	out := RedactedConfig(&cfg)

	if out.Wallet.PrivateKey != redacted {
		t.Errorf("Wallet.PrivateKey = %q, want redacted", out.Wallet.PrivateKey)
	}
	if out.Redis.Password != redacted {
		t.Errorf("Redis.Password = %q, want redacted", out.Redis.Password)
	}
	if out.OrderGW.ApiSecret != redacted {
		t.Errorf("OrderGW.ApiSecret = %q, want redacted", out.OrderGW.ApiSecret)
	}

	if cfg.Wallet.PrivateKey != "0xsecretkey" {
		t.Errorf("original Wallet.PrivateKey mutated to %q", cfg.Wallet.PrivateKey)
	}

	out.Allocation.Strategies["arb"] = 999
	if cfg.Allocation.Strategies["arb"] == 999 {
		t.Error("mutating redacted copy's Allocation.Strategies affected the original")
	}
}
