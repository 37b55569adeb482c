package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/action"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/dataset"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/domain/policy"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/dealmaker"
	"github.com/filops/filops/internal/port/eventbus"
	"github.com/filops/filops/internal/port/providers"
)

// Ensure the mocks satisfy their ports at compile time.
var (
	_ database.Store     = (*mockStore)(nil)
	_ eventbus.Bus       = (*mockBus)(nil)
	_ providers.Selector = (*mockSelector)(nil)
	_ dealmaker.Executor = (*mockDealer)(nil)
)

// mockStore is an in-memory database.Store. Guarded transitions mirror
// the postgres adapter's semantics so concurrency tests are faithful.
type mockStore struct {
	mu       sync.Mutex
	policies map[string]*policy.Policy
	agents   map[string]*agent.Agent
	actions  map[string]*action.Action
	alerts   []*alert.Alert
	datasets []*dataset.Dataset
	deals    map[string][]*dataset.Deal

	// Error hooks.
	getPolicyErr    error
	listDatasetsErr error
	createAlertErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		policies: make(map[string]*policy.Policy),
		agents:   make(map[string]*agent.Agent),
		actions:  make(map[string]*action.Action),
		deals:    make(map[string][]*dataset.Deal),
	}
}

func (m *mockStore) CreatePolicy(_ context.Context, p *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *mockStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getPolicyErr != nil {
		return nil, m.getPolicyErr
	}
	p, ok := m.policies[id]
	if !ok {
		return nil, fmt.Errorf("get policy %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListPolicies(_ context.Context, projectID string, activeOnly bool) ([]*policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*policy.Policy
	for _, p := range m.policies {
		if p.ProjectID != projectID {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) UpdatePolicy(_ context.Context, p *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.policies[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	cp.Active = cur.Active
	m.policies[p.ID] = &cp
	return nil
}

func (m *mockStore) SetPolicyActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Active = active
	return nil
}

func (m *mockStore) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.policies, id)
	return nil
}

func (m *mockStore) CountAgentsByPolicy(_ context.Context, policyID string, statuses []agent.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.agents {
		if a.PolicyID != policyID {
			continue
		}
		for _, st := range statuses {
			if a.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListAgents(_ context.Context, filter agent.ListFilter) ([]*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*agent.Agent
	for _, a := range m.agents {
		if filter.ProjectID != "" && a.ProjectID != filter.ProjectID {
			continue
		}
		if filter.PolicyID != "" && a.PolicyID != filter.PolicyID {
			continue
		}
		if filter.Kind != "" && a.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) UpdateAgentHeartbeat(_ context.Context, id string, at time.Time, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.LastHeartbeat = &at
	a.Status = status
	return nil
}

func (m *mockStore) RecordAgentError(_ context.Context, id string, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.ErrorCount++
	a.ErrorMessage = message
	a.Status = agent.StatusError
	return a.ErrorCount, nil
}

func (m *mockStore) ResetAgentErrors(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ErrorCount = 0
	a.ErrorMessage = ""
	return nil
}

func (m *mockStore) CreateAction(_ context.Context, a *action.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now().UTC()
	cp := *a
	m.actions[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAction(_ context.Context, id string) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, fmt.Errorf("get action %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListActionsByAgent(_ context.Context, agentID string) ([]*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*action.Action
	for _, a := range m.actions {
		if a.AgentID == agentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) TransitionAction(_ context.Context, id string, from []action.Status, to action.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("transition action %s: %w", id, domain.ErrNotFound)
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			return nil
		}
	}
	return fmt.Errorf("transition action %s to %s: %w", id, to, domain.ErrInvalidState)
}

func (m *mockStore) RejectAction(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("reject action %s: %w", id, domain.ErrNotFound)
	}
	if a.Status != action.StatusProposed {
		return fmt.Errorf("reject action %s: %w", id, domain.ErrInvalidState)
	}
	a.Status = action.StatusRejected
	a.Error = reason
	return nil
}

func (m *mockStore) CompleteAction(_ context.Context, id string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("complete action %s: %w", id, domain.ErrNotFound)
	}
	if a.Status != action.StatusExecuting {
		return fmt.Errorf("complete action %s: %w", id, domain.ErrInvalidState)
	}
	now := time.Now().UTC()
	a.Status = action.StatusCompleted
	a.Result = result
	a.ExecutedAt = &now
	return nil
}

func (m *mockStore) FailAction(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("fail action %s: %w", id, domain.ErrNotFound)
	}
	if a.Status != action.StatusExecuting {
		return fmt.Errorf("fail action %s: %w", id, domain.ErrInvalidState)
	}
	now := time.Now().UTC()
	a.Status = action.StatusFailed
	a.Error = errMsg
	a.ExecutedAt = &now
	return nil
}

func (m *mockStore) CreateAlert(_ context.Context, a *alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createAlertErr != nil {
		return m.createAlertErr
	}
	a.ID = fmt.Sprintf("alert-%d", len(m.alerts)+1)
	a.Status = alert.StatusOpen
	a.CreatedAt = time.Now().UTC()
	cp := *a
	m.alerts = append(m.alerts, &cp)
	return nil
}

func (m *mockStore) ListAlerts(_ context.Context, filter alert.ListFilter) ([]*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.Alert
	for _, a := range m.alerts {
		if filter.ProjectID != "" && a.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) ListDatasets(_ context.Context, projectID string) ([]*dataset.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDatasetsErr != nil {
		return nil, m.listDatasetsErr
	}
	var out []*dataset.Dataset
	for _, ds := range m.datasets {
		if ds.ProjectID == projectID {
			cp := *ds
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveDeals(_ context.Context, datasetID string) ([]*dataset.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dataset.Deal
	for _, d := range m.deals[datasetID] {
		if d.Status == dataset.DealActive {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CreateDeal(_ context.Context, d *dataset.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = fmt.Sprintf("deal-%d", len(m.deals[d.DatasetID])+1)
	cp := *d
	m.deals[d.DatasetID] = append(m.deals[d.DatasetID], &cp)
	return nil
}

// alertsBySeverity counts stored alerts of one severity.
func (m *mockStore) alertsBySeverity(sev alert.Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.Severity == sev {
			n++
		}
	}
	return n
}

// mockBus records published envelopes.
type mockBus struct {
	mu        sync.Mutex
	published []event.Envelope
}

func (b *mockBus) Publish(_ context.Context, _ string, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *mockBus) Subscribe(context.Context, string, string, eventbus.Handler) error { return nil }
func (b *mockBus) IsConnected() bool                                                 { return true }
func (b *mockBus) Drain() error                                                      { return nil }
func (b *mockBus) Close()                                                            {}

// countByType counts published envelopes of one event type.
func (b *mockBus) countByType(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, env := range b.published {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

// mockSelector returns canned candidates per region. It honors context
// cancellation the way a real HTTP client does; onQuery, when set, runs
// after the query is recorded and before the cancellation check.
type mockSelector struct {
	mu         sync.Mutex
	candidates map[string][]providers.Candidate
	queries    []providers.Query
	err        error
	onQuery    func()
}

func (s *mockSelector) FindBestProviders(ctx context.Context, q providers.Query) ([]providers.Candidate, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	hook := s.onQuery
	err := s.err
	cands := s.candidates[q.Region]
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	return cands, nil
}

// mockDealer is a deterministic deal executor.
type mockDealer struct {
	mu     sync.Mutex
	calls  int
	err    error
	result dealmaker.Result
}

func (d *mockDealer) CreateDeal(_ context.Context, _ dealmaker.Params) (*dealmaker.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	res := d.result
	if res.DealID == "" {
		res = dealmaker.Result{DealID: "812345", TxHash: "0xabc"}
	}
	return &res, nil
}

func (d *mockDealer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// testDoc returns a document that passes validation with no warnings
// worth asserting on.
func testDoc() policy.Document {
	return policy.Document{
		Replication: policy.Replication{
			Regions: []policy.RegionReplication{
				{Code: policy.RegionNA, MinReplicas: 2},
				{Code: policy.RegionEU, MinReplicas: 1},
			},
		},
		AvailabilityTarget:     0.95,
		CostCeilingUSDPerMonth: 100,
		Renewal:                policy.Renewal{LeadTimeDays: 14, MinCollateralBufferPct: 20},
		ConflictStrategy:       policy.ConflictWarn,
	}
}

func seedPolicy(m *mockStore, id, projectID string, active bool) *policy.Policy {
	p := &policy.Policy{
		ID:        id,
		ProjectID: projectID,
		Name:      "replication",
		Version:   1,
		Doc:       testDoc(),
		Active:    active,
	}
	m.policies[id] = p
	return p
}

func seedAgent(m *mockStore, id, policyID string, status agent.Status) *agent.Agent {
	a := &agent.Agent{
		ID:        id,
		Kind:      agent.KindReplicaBalance,
		ProjectID: "proj-1",
		PolicyID:  policyID,
		Status:    status,
		Config:    agent.DefaultConfig(agent.KindReplicaBalance),
	}
	m.agents[id] = a
	return a
}

func seedAction(m *mockStore, id, agentID string, status action.Status) *action.Action {
	a := &action.Action{
		ID:        id,
		AgentID:   agentID,
		DatasetID: "ds-1",
		Kind:      action.KindCreateDeal,
		Status:    status,
		Metadata:  action.Metadata{Region: "NA", ProviderID: "f01000", DatasetCID: "bafytest"},
		CreatedAt: time.Now().UTC(),
	}
	m.actions[id] = a
	return a
}
