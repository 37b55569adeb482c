package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/domain/policy"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/eventbus"
)

// nonTerminalAgentStatuses are the agent states that block policy
// deletion.
var nonTerminalAgentStatuses = []agent.Status{
	agent.StatusCreated,
	agent.StatusRunning,
	agent.StatusPaused,
	agent.StatusError,
}

// PolicyService owns policy CRUD, activation, and compliance status.
type PolicyService struct {
	store     database.Store
	bus       eventbus.Bus
	validator *policy.Validator
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(store database.Store, bus eventbus.Bus, validator *policy.Validator) *PolicyService {
	return &PolicyService{store: store, bus: bus, validator: validator}
}

// Create validates the document, checks for cross-policy conflicts, and
// persists the policy at version 1. The validation result is returned
// alongside the policy so callers can surface warnings; a document with
// schema errors or error-severity conflicts is rejected with
// ErrValidation.
func (s *PolicyService) Create(ctx context.Context, req policy.CreateRequest) (*policy.Policy, *policy.ValidationResult, error) {
	res := s.validator.Validate(req.Doc)

	existing, err := s.store.ListPolicies(ctx, req.ProjectID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("list project policies: %w", err)
	}
	res.Conflicts = append(res.Conflicts, s.validator.CheckConflicts(req.Doc, req.ProjectID, derefPolicies(existing))...)

	if !res.Valid {
		return nil, &res, fmt.Errorf("%w: %s", domain.ErrValidation, firstProblem(res))
	}

	p := &policy.Policy{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Version:   1,
		Doc:       req.Doc,
		Active:    req.Active,
	}
	if err := s.store.CreatePolicy(ctx, p); err != nil {
		return nil, &res, fmt.Errorf("create policy: %w", err)
	}

	s.publish(ctx, event.TypePolicyCreated, p)
	return p, &res, nil
}

// Validate runs the rule set plus the cross-policy conflict check
// without persisting anything.
func (s *PolicyService) Validate(ctx context.Context, projectID string, doc policy.Document) (*policy.ValidationResult, error) {
	res := s.validator.Validate(doc)
	if projectID != "" {
		existing, err := s.store.ListPolicies(ctx, projectID, true)
		if err != nil {
			return nil, fmt.Errorf("list project policies: %w", err)
		}
		res.Conflicts = append(res.Conflicts, s.validator.CheckConflicts(doc, projectID, derefPolicies(existing))...)
	}
	return &res, nil
}

// Get returns a policy by ID.
func (s *PolicyService) Get(ctx context.Context, id string) (*policy.Policy, error) {
	return s.store.GetPolicy(ctx, id)
}

// List returns a project's policies, optionally only active ones.
func (s *PolicyService) List(ctx context.Context, projectID string, activeOnly bool) ([]*policy.Policy, error) {
	return s.store.ListPolicies(ctx, projectID, activeOnly)
}

// Update applies the request to the stored policy. A new document is
// revalidated before it replaces the old one; the store bumps the
// version and rejects stale writes with ErrConflict.
func (s *PolicyService) Update(ctx context.Context, id string, req policy.UpdateRequest) (*policy.Policy, *policy.ValidationResult, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var res *policy.ValidationResult
	if req.Doc != nil {
		r := s.validator.Validate(*req.Doc)
		res = &r
		if !r.Valid {
			return nil, res, fmt.Errorf("%w: %s", domain.ErrValidation, firstProblem(r))
		}
		p.Doc = *req.Doc
	}
	if req.Name != nil {
		p.Name = *req.Name
	}

	if err := s.store.UpdatePolicy(ctx, p); err != nil {
		return nil, res, fmt.Errorf("update policy: %w", err)
	}
	s.publish(ctx, event.TypePolicyUpdated, p)

	if req.Active != nil && *req.Active != p.Active {
		if *req.Active {
			p, err = s.Activate(ctx, id)
		} else {
			p, err = s.Deactivate(ctx, id)
		}
		if err != nil {
			return nil, res, err
		}
	}
	return p, res, nil
}

// Activate marks the policy active. Activating an already-active
// policy is a no-op.
func (s *PolicyService) Activate(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Active {
		return p, nil
	}
	if err := s.store.SetPolicyActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("activate policy: %w", err)
	}
	p.Active = true
	s.publish(ctx, event.TypePolicyActivated, p)
	return p, nil
}

// Deactivate marks the policy inactive. Running agents bound to it
// keep ticking but their checks become no-ops until reactivation.
func (s *PolicyService) Deactivate(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return p, nil
	}
	if err := s.store.SetPolicyActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("deactivate policy: %w", err)
	}
	p.Active = false
	s.publish(ctx, event.TypePolicyDeactivated, p)
	return p, nil
}

// Delete removes a policy. Deletion is blocked with ErrConflict while
// any agent referencing it is in a non-terminal state.
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.store.CountAgentsByPolicy(ctx, id, nonTerminalAgentStatuses)
	if err != nil {
		return fmt.Errorf("count policy agents: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: policy %s is referenced by %d non-terminal agents", domain.ErrConflict, id, n)
	}
	if err := s.store.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	s.publish(ctx, event.TypePolicyDeleted, p)
	return nil
}

// RegionStatus is the per-region compliance snapshot in a
// ComplianceStatus report.
type RegionStatus struct {
	Region    policy.RegionCode `json:"region"`
	Required  int               `json:"required"`
	Current   int               `json:"current"`
	Compliant bool              `json:"compliant"`
}

// ComplianceStatus is a point-in-time compliance report for one policy
// across all datasets in its project.
type ComplianceStatus struct {
	PolicyID            string         `json:"policy_id"`
	ProjectID           string         `json:"project_id"`
	Compliant           bool           `json:"compliant"`
	Regions             []RegionStatus `json:"regions"`
	DatasetCount        int            `json:"dataset_count"`
	CostCeilingUSD      float64        `json:"cost_ceiling_usd"`
	EstimatedMinCostUSD float64        `json:"estimated_min_cost_usd"`
	WithinBudget        bool           `json:"within_budget"`
	CheckedAt           time.Time      `json:"checked_at"`
}

// GetComplianceStatus computes the current replica counts for every
// dataset in the policy's project and reports, per region, the worst
// dataset against the policy's requirements.
func (s *PolicyService) GetComplianceStatus(ctx context.Context, id string) (*ComplianceStatus, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	datasets, err := s.store.ListDatasets(ctx, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	countsPerDataset := make([]map[policy.RegionCode]int, 0, len(datasets))
	for _, ds := range datasets {
		deals, err := s.store.ListActiveDeals(ctx, ds.ID)
		if err != nil {
			return nil, fmt.Errorf("list deals for dataset %s: %w", ds.ID, err)
		}
		counts := make(map[policy.RegionCode]int)
		for _, d := range deals {
			counts[policy.RegionCode(d.Region)]++
		}
		countsPerDataset = append(countsPerDataset, counts)
	}

	status := &ComplianceStatus{
		PolicyID:     p.ID,
		ProjectID:    p.ProjectID,
		Compliant:    true,
		DatasetCount: len(datasets),
		CheckedAt:    time.Now().UTC(),
	}
	for _, req := range p.Doc.Replication.Regions {
		rs := RegionStatus{Region: req.Code, Required: req.MinReplicas, Compliant: true}
		for i, counts := range countsPerDataset {
			if i == 0 || counts[req.Code] < rs.Current {
				rs.Current = counts[req.Code]
			}
		}
		if len(datasets) > 0 && rs.Current < req.MinReplicas {
			rs.Compliant = false
			status.Compliant = false
		}
		status.Regions = append(status.Regions, rs)
	}

	total := p.Doc.Replication.TotalReplicas()
	status.CostCeilingUSD = p.Doc.CostCeilingUSDPerMonth
	status.EstimatedMinCostUSD = float64(total) * s.validator.MinUnitCostUSD
	status.WithinBudget = status.CostCeilingUSD >= status.EstimatedMinCostUSD
	return status, nil
}

func (s *PolicyService) publish(ctx context.Context, eventType string, p *policy.Policy) {
	if s.bus == nil {
		return
	}
	env := event.New(eventType, "policy-service", map[string]any{
		"policy_id":  p.ID,
		"project_id": p.ProjectID,
		"name":       p.Name,
		"version":    p.Version,
		"active":     p.Active,
	})
	if err := s.bus.Publish(ctx, eventbus.TopicPolicyUpdates, env); err != nil {
		slog.Warn("failed to publish policy event", "type", eventType, "policy_id", p.ID, "error", err)
	}
}

func derefPolicies(ps []*policy.Policy) []policy.Policy {
	out := make([]policy.Policy, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p)
	}
	return out
}

// firstProblem picks the message a wrapped ErrValidation carries:
// the first schema error, or the first error-severity conflict.
func firstProblem(res policy.ValidationResult) string {
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	for _, c := range res.Conflicts {
		if c.Severity == policy.SeverityError {
			return c.Message
		}
	}
	return "invalid policy document"
}
