// Package database defines the persistence port the services depend
// on. Implementations live under internal/adapter.
package database

import (
	"context"
	"time"

	"github.com/filops/filops/internal/domain/action"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/dataset"
	"github.com/filops/filops/internal/domain/policy"
)

// Store is the typed persistence contract. Implementations must be
// safe for concurrent use; status transitions are expected to be
// guarded so that a losing concurrent caller gets
// domain.ErrInvalidState instead of a silent overwrite.
type Store interface {
	// Policies.
	CreatePolicy(ctx context.Context, p *policy.Policy) error
	GetPolicy(ctx context.Context, id string) (*policy.Policy, error)
	ListPolicies(ctx context.Context, projectID string, activeOnly bool) ([]*policy.Policy, error)
	UpdatePolicy(ctx context.Context, p *policy.Policy) error
	SetPolicyActive(ctx context.Context, id string, active bool) error
	DeletePolicy(ctx context.Context, id string) error
	// CountAgentsByPolicy counts agents bound to the policy whose
	// status is in the given set.
	CountAgentsByPolicy(ctx context.Context, policyID string, statuses []agent.Status) (int, error)

	// Agents.
	CreateAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context, filter agent.ListFilter) ([]*agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
	UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time, status agent.Status) error
	// RecordAgentError stores the message, flips status to Error and
	// returns the incremented consecutive-error count.
	RecordAgentError(ctx context.Context, id string, message string) (int, error)
	ResetAgentErrors(ctx context.Context, id string) error

	// Actions.
	CreateAction(ctx context.Context, a *action.Action) error
	GetAction(ctx context.Context, id string) (*action.Action, error)
	ListActionsByAgent(ctx context.Context, agentID string) ([]*action.Action, error)
	// TransitionAction moves the action to the target status only if
	// its current status is in from; otherwise it returns
	// domain.ErrInvalidState (or domain.ErrNotFound if the action does
	// not exist).
	TransitionAction(ctx context.Context, id string, from []action.Status, to action.Status) error
	// RejectAction moves a proposed action to rejected and stores the
	// reason in the error field.
	RejectAction(ctx context.Context, id string, reason string) error
	CompleteAction(ctx context.Context, id string, result map[string]any) error
	FailAction(ctx context.Context, id string, errMsg string) error

	// Alerts.
	CreateAlert(ctx context.Context, a *alert.Alert) error
	ListAlerts(ctx context.Context, filter alert.ListFilter) ([]*alert.Alert, error)

	// Datasets and deals.
	ListDatasets(ctx context.Context, projectID string) ([]*dataset.Dataset, error)
	ListActiveDeals(ctx context.Context, datasetID string) ([]*dataset.Deal, error)
	CreateDeal(ctx context.Context, d *dataset.Deal) error
}
