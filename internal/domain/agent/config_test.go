package agent

import (
	"testing"
	"time"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize(KindReplicaBalance)

	if cfg.CheckInterval != DefaultCheckInterval {
		t.Errorf("check interval = %s, want %s", cfg.CheckInterval, DefaultCheckInterval)
	}
	if cfg.MaxActionsPerRun != DefaultMaxActionsPerRun {
		t.Errorf("max actions = %d, want %d", cfg.MaxActionsPerRun, DefaultMaxActionsPerRun)
	}
	if cfg.AutoExecute {
		t.Error("auto execute must default to false")
	}
	if cfg.LeadTimeDays != 0 || cfg.MinSavingsPct != 0 {
		t.Error("kind-specific fields must stay zero for replica_balance")
	}
}

func TestNormalizeKindSpecificDefaults(t *testing.T) {
	var renew Config
	renew.Normalize(KindPredictiveRenew)
	if renew.LeadTimeDays != DefaultLeadTimeDays {
		t.Errorf("lead time = %d, want %d", renew.LeadTimeDays, DefaultLeadTimeDays)
	}

	var arb Config
	arb.Normalize(KindPricingArbitrage)
	if arb.MinSavingsPct != DefaultMinSavingsPct {
		t.Errorf("min savings = %g, want %g", arb.MinSavingsPct, DefaultMinSavingsPct)
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := Config{CheckInterval: 5 * time.Minute, MaxActionsPerRun: 3, AutoExecute: true}
	cfg.Normalize(KindReplicaBalance)
	if cfg.CheckInterval != 5*time.Minute || cfg.MaxActionsPerRun != 3 || !cfg.AutoExecute {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown kind", func(c *Config) { c.Kind = "janitor" }},
		{"sub-second interval", func(c *Config) { c.CheckInterval = 500 * time.Millisecond }},
		{"negative actions", func(c *Config) { c.MaxActionsPerRun = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(KindReplicaBalance)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %+v", cfg)
			}
		})
	}
}

func TestValidateKindSpecificFields(t *testing.T) {
	cfg := DefaultConfig(KindPredictiveRenew)
	cfg.LeadTimeDays = -7
	if err := cfg.Validate(); err == nil {
		t.Error("negative lead time must fail")
	}

	cfg = DefaultConfig(KindPricingArbitrage)
	cfg.MinSavingsPct = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative savings threshold must fail")
	}
}
