package agent

import (
	"fmt"
	"time"
)

// Configuration defaults applied by Normalize.
const (
	DefaultCheckInterval    = 60 * time.Second
	DefaultMaxActionsPerRun = 10
	DefaultLeadTimeDays     = 14
	DefaultMinSavingsPct    = 10.0

	MinCheckInterval = time.Second
)

// Config is the kind-tagged agent configuration. The shared fields
// apply to every kind; LeadTimeDays is read only by predictive_renewal
// and MinSavingsPct only by pricing_arbitrage.
type Config struct {
	Kind             Kind          `json:"kind"`
	CheckInterval    time.Duration `json:"check_interval"`
	AutoExecute      bool          `json:"auto_execute"`
	MaxActionsPerRun int           `json:"max_actions_per_run"`

	LeadTimeDays  int     `json:"lead_time_days,omitempty"`
	MinSavingsPct float64 `json:"min_savings_pct,omitempty"`
}

// DefaultConfig returns the configuration an agent of the given kind
// runs with when the caller specifies nothing.
func DefaultConfig(kind Kind) Config {
	cfg := Config{
		Kind:             kind,
		CheckInterval:    DefaultCheckInterval,
		MaxActionsPerRun: DefaultMaxActionsPerRun,
	}
	switch kind {
	case KindPredictiveRenew:
		cfg.LeadTimeDays = DefaultLeadTimeDays
	case KindPricingArbitrage:
		cfg.MinSavingsPct = DefaultMinSavingsPct
	}
	return cfg
}

// Normalize fills unset fields with their defaults. It does not fix
// out-of-range values; those are left for Validate to reject.
func (c *Config) Normalize(kind Kind) {
	c.Kind = kind
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxActionsPerRun == 0 {
		c.MaxActionsPerRun = DefaultMaxActionsPerRun
	}
	switch kind {
	case KindPredictiveRenew:
		if c.LeadTimeDays == 0 {
			c.LeadTimeDays = DefaultLeadTimeDays
		}
	case KindPricingArbitrage:
		if c.MinSavingsPct == 0 {
			c.MinSavingsPct = DefaultMinSavingsPct
		}
	}
}

// Validate checks the normalized configuration.
func (c Config) Validate() error {
	valid := false
	for _, k := range KnownKinds {
		if c.Kind == k {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown agent kind %q", c.Kind)
	}
	if c.CheckInterval < MinCheckInterval {
		return fmt.Errorf("check_interval must be at least %s, got %s", MinCheckInterval, c.CheckInterval)
	}
	if c.MaxActionsPerRun < 1 {
		return fmt.Errorf("max_actions_per_run must be at least 1, got %d", c.MaxActionsPerRun)
	}
	switch c.Kind {
	case KindPredictiveRenew:
		if c.LeadTimeDays < 1 {
			return fmt.Errorf("lead_time_days must be at least 1, got %d", c.LeadTimeDays)
		}
	case KindPricingArbitrage:
		if c.MinSavingsPct <= 0 {
			return fmt.Errorf("min_savings_pct must be positive, got %g", c.MinSavingsPct)
		}
	}
	return nil
}
