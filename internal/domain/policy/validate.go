package policy

import "fmt"

// ConflictType classifies a detected policy conflict.
type ConflictType string

const (
	ConflictTypeBudget   ConflictType = "budget"
	ConflictTypeRegion   ConflictType = "region"
	ConflictTypeProvider ConflictType = "provider"
	ConflictTypeSLA      ConflictType = "sla"
)

// ConflictSeverity is the severity of a detected conflict. Only
// error-severity conflicts make a document invalid.
type ConflictSeverity string

const (
	SeverityError   ConflictSeverity = "error"
	SeverityWarning ConflictSeverity = "warning"
)

// Conflict is a single rule violation found during validation.
type Conflict struct {
	Type     ConflictType     `json:"type"`
	Severity ConflictSeverity `json:"severity"`
	Message  string           `json:"message"`
	Details  map[string]any   `json:"details,omitempty"`
}

// ValidationResult is the outcome of validating a policy document.
// Valid is true iff there are no schema errors and no error-severity
// conflicts.
type ValidationResult struct {
	Valid     bool       `json:"valid"`
	Errors    []string   `json:"errors,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// DefaultMinUnitCostUSD is the fallback per-replica monthly cost floor
// used by the budget heuristic when no value is configured.
const DefaultMinUnitCostUSD = 5.0

// MaxTotalReplicas is the soft ceiling above which total replica count
// is flagged as a cost risk.
const MaxTotalReplicas = 50

// Validator checks policy documents against the replication rule set.
type Validator struct {
	// MinUnitCostUSD is the assumed minimum monthly cost of one replica,
	// used only as a budget heuristic.
	MinUnitCostUSD float64
}

// NewValidator returns a Validator with the given per-replica cost
// floor, falling back to DefaultMinUnitCostUSD when non-positive.
func NewValidator(minUnitCostUSD float64) *Validator {
	if minUnitCostUSD <= 0 {
		minUnitCostUSD = DefaultMinUnitCostUSD
	}
	return &Validator{MinUnitCostUSD: minUnitCostUSD}
}

// Validate runs every rule against the document. Schema errors
// short-circuit the remaining rules; all other rules are evaluated
// even after one fails.
func (v *Validator) Validate(doc Document) ValidationResult {
	res := ValidationResult{}

	if errs := v.checkSchema(doc); len(errs) > 0 {
		res.Errors = errs
		res.Valid = false
		return res
	}

	v.checkRegions(doc, &res)
	v.checkProviders(doc, &res)
	v.checkBudget(doc, &res)
	v.checkRenewal(doc, &res)
	v.checkArbitrage(doc, &res)

	res.Valid = len(res.Errors) == 0
	for _, c := range res.Conflicts {
		if c.Severity == SeverityError {
			res.Valid = false
			break
		}
	}
	return res
}

func (v *Validator) checkSchema(doc Document) []string {
	var errs []string
	if len(doc.Replication.Regions) == 0 {
		errs = append(errs, "replication must declare at least one region")
	}
	for _, r := range doc.Replication.Regions {
		if !isKnownRegion(r.Code) {
			errs = append(errs, fmt.Sprintf("unknown region code %q", r.Code))
		}
		if r.MinReplicas < 0 {
			errs = append(errs, fmt.Sprintf("region %s: min_replicas must not be negative", r.Code))
		}
	}
	if doc.AvailabilityTarget < 0 || doc.AvailabilityTarget > 1 {
		errs = append(errs, "availability_target must be between 0 and 1")
	}
	for code, ms := range doc.LatencyTargetsMs {
		if ms < 0 {
			errs = append(errs, fmt.Sprintf("latency target for %s must not be negative", code))
		}
	}
	if doc.CostCeilingUSDPerMonth < 0 {
		errs = append(errs, "cost_ceiling_usd_per_tib_month must not be negative")
	}
	if doc.Renewal.LeadTimeDays < 0 {
		errs = append(errs, "renewal.lead_time_days must not be negative")
	}
	if doc.Renewal.MinCollateralBufferPct < 0 {
		errs = append(errs, "renewal.min_collateral_buffer_pct must not be negative")
	}
	if f := doc.Arbitrage.Verification.SampleRetrieval; f < 0 || f > 1 {
		errs = append(errs, "arbitrage.verification_strategy.sample_retrieval must be between 0 and 1")
	}
	if doc.Arbitrage.MinExpectedSavingsPct < 0 {
		errs = append(errs, "arbitrage.min_expected_savings_pct must not be negative")
	}
	if !isValidConflictStrategy(doc.ConflictStrategy) {
		errs = append(errs, fmt.Sprintf("conflict_strategy must be one of warn, auto_adjust, block; got %q", doc.ConflictStrategy))
	}
	return errs
}

func (v *Validator) checkRegions(doc Document, res *ValidationResult) {
	seen := make(map[RegionCode]bool, len(doc.Replication.Regions))
	for _, r := range doc.Replication.Regions {
		if seen[r.Code] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate region code %s", r.Code))
		}
		seen[r.Code] = true
	}

	total := doc.Replication.TotalReplicas()
	if total < 2 {
		res.Errors = append(res.Errors, fmt.Sprintf("total replicas across regions must be at least 2, got %d", total))
	}
	if total > MaxTotalReplicas {
		res.Warnings = append(res.Warnings, fmt.Sprintf("total replicas %d exceeds %d, review storage costs", total, MaxTotalReplicas))
	}
}

func (v *Validator) checkProviders(doc Document, res *ValidationResult) {
	deny := make(map[string]bool, len(doc.Replication.DenylistProviders))
	for _, p := range doc.Replication.DenylistProviders {
		deny[p] = true
	}
	for _, p := range doc.Replication.AllowlistProviders {
		if deny[p] {
			res.Conflicts = append(res.Conflicts, Conflict{
				Type:     ConflictTypeProvider,
				Severity: SeverityError,
				Message:  fmt.Sprintf("provider %s is in both the allowlist and the denylist", p),
				Details:  map[string]any{"provider_id": p},
			})
		}
	}
}

func (v *Validator) checkBudget(doc Document, res *ValidationResult) {
	total := doc.Replication.TotalReplicas()
	minCost := float64(total) * v.MinUnitCostUSD
	if doc.CostCeilingUSDPerMonth < minCost {
		res.Conflicts = append(res.Conflicts, Conflict{
			Type:     ConflictTypeBudget,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("cost ceiling %.2f may not cover %d replicas (estimated minimum %.2f)", doc.CostCeilingUSDPerMonth, total, minCost),
			Details: map[string]any{
				"cost_ceiling":      doc.CostCeilingUSDPerMonth,
				"total_replicas":    total,
				"estimated_minimum": minCost,
			},
		})
	}
	if doc.CostCeilingUSDPerMonth > 1000 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("cost ceiling %.2f is unusually high", doc.CostCeilingUSDPerMonth))
	}
}

func (v *Validator) checkRenewal(doc Document, res *ValidationResult) {
	if doc.Renewal.LeadTimeDays < 7 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("renewal lead time %d days is short, deals may expire before renewal completes", doc.Renewal.LeadTimeDays))
	}
	if doc.Renewal.LeadTimeDays > 90 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("renewal lead time %d days is long, collateral is locked early", doc.Renewal.LeadTimeDays))
	}
	if doc.Renewal.MinCollateralBufferPct < 10 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("collateral buffer %.1f%% is below the recommended 10%%", doc.Renewal.MinCollateralBufferPct))
	}
}

func (v *Validator) checkArbitrage(doc Document, res *ValidationResult) {
	if !doc.Arbitrage.Enable {
		return
	}
	if doc.Arbitrage.MinExpectedSavingsPct < 5 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("arbitrage savings threshold %.1f%% is low, migrations may churn", doc.Arbitrage.MinExpectedSavingsPct))
	}
	if !doc.Arbitrage.Verification.HashCheck {
		res.Conflicts = append(res.Conflicts, Conflict{
			Type:     ConflictTypeSLA,
			Severity: SeverityError,
			Message:  "arbitrage requires hash-check verification for migrated data",
		})
	}
	if doc.Arbitrage.Verification.SampleRetrieval < 0.01 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("sample retrieval fraction %.3f is too small to catch retrieval failures", doc.Arbitrage.Verification.SampleRetrieval))
	}
}

// CheckConflicts reports cross-policy conflicts between a document and
// the project's existing policies. Multiple active policies per project
// are allowed, so the result is informational.
func (v *Validator) CheckConflicts(doc Document, projectID string, existing []Policy) []Conflict {
	var active []string
	for _, p := range existing {
		if p.Active && p.ProjectID == projectID {
			active = append(active, p.ID)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return []Conflict{{
		Type:     ConflictTypeRegion,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("project %s already has %d active policies, their replication targets may overlap", projectID, len(active)),
		Details:  map[string]any{"active_policy_ids": active},
	}}
}
