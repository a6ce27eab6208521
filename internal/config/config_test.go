package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("COMMISSION_RATE_PUBLIC", "")
	t.Setenv("COMMISSION_RATE_FRIENDS", "")
	t.Setenv("PROOF_GRACE_HOURS", "")
	t.Setenv("SETTLE_DELAY_MINUTES", "")
	t.Setenv("WORKER_INTERVAL_SECONDS", "")
	t.Setenv("WELCOME_BONUS_CENTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CommissionRatePublic.String() != "0.05" {
		t.Errorf("Expected public rate 0.05, got %s", cfg.CommissionRatePublic)
	}
	if cfg.CommissionRateFriends.String() != "0.03" {
		t.Errorf("Expected friends rate 0.03, got %s", cfg.CommissionRateFriends)
	}
	if cfg.ProofGrace != 24*time.Hour {
		t.Errorf("Expected proof grace 24h, got %v", cfg.ProofGrace)
	}
	if cfg.WorkerInterval != time.Minute {
		t.Errorf("Expected worker interval 1m, got %v", cfg.WorkerInterval)
	}
	if cfg.WelcomeBonus != 10000 {
		t.Errorf("Expected welcome bonus 10000, got %d", cfg.WelcomeBonus)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SETTLE_DELAY_MINUTES", "5")
	t.Setenv("COMMISSION_RATE_PUBLIC", "0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SettleDelay != 5*time.Minute {
		t.Errorf("Expected settle delay of 5 minutes, got %v", cfg.SettleDelay)
	}
	if cfg.CommissionRatePublic.String() != "0.1" {
		t.Errorf("Expected public rate 0.1, got %s", cfg.CommissionRatePublic)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non numeric grace", key: "PROOF_GRACE_HOURS", value: "soon"},
		{name: "negative delay", key: "SETTLE_DELAY_MINUTES", value: "-1"},
		{name: "zero interval", key: "WORKER_INTERVAL_SECONDS", value: "0"},
		{name: "rate too high", key: "COMMISSION_RATE_PUBLIC", value: "1.5"},
		{name: "rate garbage", key: "COMMISSION_RATE_FRIENDS", value: "three"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
