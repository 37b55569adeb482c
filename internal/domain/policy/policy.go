// Package policy defines the replication policy document model and the
// rules that validate it. A policy declares how many replicas of a
// project's datasets must exist per region, the budget and renewal
// envelope those replicas must fit in, and whether pricing arbitrage
// is allowed to move data between providers.
package policy

import "time"

// RegionCode identifies a geographic storage region.
type RegionCode string

const (
	RegionNA   RegionCode = "NA"
	RegionEU   RegionCode = "EU"
	RegionAPAC RegionCode = "APAC"
	RegionSA   RegionCode = "SA"
	RegionAF   RegionCode = "AF"
	RegionME   RegionCode = "ME"
)

// KnownRegions lists every valid region code.
var KnownRegions = []RegionCode{RegionNA, RegionEU, RegionAPAC, RegionSA, RegionAF, RegionME}

// ConflictStrategy controls how a policy reacts to conflicting policies
// on the same project.
type ConflictStrategy string

const (
	ConflictWarn       ConflictStrategy = "warn"
	ConflictAutoAdjust ConflictStrategy = "auto_adjust"
	ConflictBlock      ConflictStrategy = "block"
)

// RegionReplication is one (region, minimum replica count) requirement.
type RegionReplication struct {
	Code        RegionCode `json:"code" yaml:"code"`
	MinReplicas int        `json:"min_replicas" yaml:"min_replicas"`
}

// Replication groups the per-region requirements with provider
// allow/deny lists.
type Replication struct {
	Regions            []RegionReplication `json:"regions" yaml:"regions"`
	AllowlistProviders []string            `json:"allowlist_providers,omitempty" yaml:"allowlist_providers,omitempty"`
	DenylistProviders  []string            `json:"denylist_providers,omitempty" yaml:"denylist_providers,omitempty"`
}

// TotalReplicas returns the sum of minimum replicas across all regions.
func (r Replication) TotalReplicas() int {
	total := 0
	for _, region := range r.Regions {
		total += region.MinReplicas
	}
	return total
}

// Renewal configures deal renewal behavior.
type Renewal struct {
	LeadTimeDays           int     `json:"lead_time_days" yaml:"lead_time_days"`
	MinCollateralBufferPct float64 `json:"min_collateral_buffer_pct" yaml:"min_collateral_buffer_pct"`
}

// VerificationStrategy describes how migrated data is verified when
// arbitrage moves a replica to a cheaper provider.
type VerificationStrategy struct {
	HashCheck       bool    `json:"hash_check" yaml:"hash_check"`
	SampleRetrieval float64 `json:"sample_retrieval" yaml:"sample_retrieval"`
}

// Arbitrage configures the pricing-arbitrage toggle.
type Arbitrage struct {
	Enable                bool                 `json:"enable" yaml:"enable"`
	MinExpectedSavingsPct float64              `json:"min_expected_savings_pct" yaml:"min_expected_savings_pct"`
	Verification          VerificationStrategy `json:"verification_strategy" yaml:"verification_strategy"`
}

// Document is the full declarative policy document.
type Document struct {
	Replication            Replication            `json:"replication" yaml:"replication"`
	AvailabilityTarget     float64                `json:"availability_target" yaml:"availability_target"`
	LatencyTargetsMs       map[RegionCode]float64 `json:"latency_targets_ms,omitempty" yaml:"latency_targets_ms,omitempty"`
	CostCeilingUSDPerMonth float64                `json:"cost_ceiling_usd_per_tib_month" yaml:"cost_ceiling_usd_per_tib_month"`
	Renewal                Renewal                `json:"renewal" yaml:"renewal"`
	Arbitrage              Arbitrage              `json:"arbitrage" yaml:"arbitrage"`
	ConflictStrategy       ConflictStrategy       `json:"conflict_strategy" yaml:"conflict_strategy"`
}

// Policy is a stored, versioned policy bound to a project.
// Policies are created inactive and must be activated explicitly.
type Policy struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Doc       Document  `json:"doc"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest carries the fields needed to create a policy.
type CreateRequest struct {
	ProjectID string   `json:"project_id"`
	Name      string   `json:"name"`
	Doc       Document `json:"doc"`
	Active    bool     `json:"active"`
}

// UpdateRequest carries an optional new name, document, and active flag.
// Nil fields are left unchanged.
type UpdateRequest struct {
	Name   *string   `json:"name,omitempty"`
	Doc    *Document `json:"doc,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

func isKnownRegion(code RegionCode) bool {
	for _, r := range KnownRegions {
		if r == code {
			return true
		}
	}
	return false
}

func isValidConflictStrategy(s ConflictStrategy) bool {
	switch s {
	case ConflictWarn, ConflictAutoAdjust, ConflictBlock:
		return true
	}
	return false
}
