package service

import (
	"context"
	"errors"
	"testing"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/dataset"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/domain/policy"
)

func newPolicyService(m *mockStore, b *mockBus) *PolicyService {
	return NewPolicyService(m, b, policy.NewValidator(0))
}

func TestPolicyCreateAndPublish(t *testing.T) {
	store := newMockStore()
	bus := &mockBus{}
	svc := newPolicyService(store, bus)

	p, res, err := svc.Create(context.Background(), policy.CreateRequest{
		ProjectID: "proj-1",
		Name:      "replication",
		Doc:       testDoc(),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Version != 1 || !p.Active {
		t.Errorf("unexpected policy: %+v", p)
	}
	if !res.Valid {
		t.Errorf("expected valid result: %+v", res)
	}
	if bus.countByType(event.TypePolicyCreated) != 1 {
		t.Error("expected policy.created event")
	}
	if _, err := store.GetPolicy(context.Background(), p.ID); err != nil {
		t.Errorf("policy not stored: %v", err)
	}
}

func TestPolicyCreateRejectsInvalidDoc(t *testing.T) {
	store := newMockStore()
	svc := newPolicyService(store, &mockBus{})

	doc := testDoc()
	doc.Replication.Regions = []policy.RegionReplication{{Code: policy.RegionNA, MinReplicas: 1}}

	_, res, err := svc.Create(context.Background(), policy.CreateRequest{ProjectID: "proj-1", Name: "bad", Doc: doc})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if res == nil || res.Valid {
		t.Errorf("expected invalid result, got %+v", res)
	}
	if len(store.policies) != 0 {
		t.Error("invalid policy must not be stored")
	}
}

func TestPolicyCreateSurfacesCrossPolicyConflict(t *testing.T) {
	store := newMockStore()
	seedPolicy(store, "pol-existing", "proj-1", true)
	svc := newPolicyService(store, &mockBus{})

	p, res, err := svc.Create(context.Background(), policy.CreateRequest{
		ProjectID: "proj-1",
		Name:      "second",
		Doc:       testDoc(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p == nil {
		t.Fatal("conflict warnings must not block creation")
	}

	found := false
	for _, c := range res.Conflicts {
		if c.Type == policy.ConflictTypeRegion && c.Severity == policy.SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected region warning conflict, got %+v", res.Conflicts)
	}
}

func TestPolicyUpdateRevalidates(t *testing.T) {
	store := newMockStore()
	seedPolicy(store, "pol-1", "proj-1", false)
	svc := newPolicyService(store, &mockBus{})

	bad := testDoc()
	bad.Replication.Regions = append(bad.Replication.Regions, policy.RegionReplication{Code: policy.RegionNA, MinReplicas: 1})

	_, _, err := svc.Update(context.Background(), "pol-1", policy.UpdateRequest{Doc: &bad})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	p, _ := store.GetPolicy(context.Background(), "pol-1")
	if p.Version != 1 {
		t.Errorf("invalid update must not bump version, got %d", p.Version)
	}

	good := testDoc()
	good.CostCeilingUSDPerMonth = 200
	updated, _, err := svc.Update(context.Background(), "pol-1", policy.UpdateRequest{Doc: &good})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if updated.Doc.CostCeilingUSDPerMonth != 200 {
		t.Errorf("document not updated: %+v", updated.Doc)
	}
}

func TestPolicyActivateIdempotent(t *testing.T) {
	store := newMockStore()
	seedPolicy(store, "pol-1", "proj-1", false)
	bus := &mockBus{}
	svc := newPolicyService(store, bus)
	ctx := context.Background()

	for range 2 {
		p, err := svc.Activate(ctx, "pol-1")
		if err != nil {
			t.Fatalf("Activate: %v", err)
		}
		if !p.Active {
			t.Error("expected active policy")
		}
	}
	if got := bus.countByType(event.TypePolicyActivated); got != 1 {
		t.Errorf("expected 1 activation event, got %d", got)
	}
}

func TestPolicyDeleteBlockedByAgents(t *testing.T) {
	store := newMockStore()
	seedPolicy(store, "pol-1", "proj-1", true)
	ag := seedAgent(store, "agent-1", "pol-1", agent.StatusRunning)
	svc := newPolicyService(store, &mockBus{})
	ctx := context.Background()

	err := svc.Delete(ctx, "pol-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	ag.Status = agent.StatusStopped
	if err := svc.Delete(ctx, "pol-1"); err != nil {
		t.Fatalf("Delete after agent stopped: %v", err)
	}
	if _, err := store.GetPolicy(ctx, "pol-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestComplianceStatusReportsWorstDataset(t *testing.T) {
	store := newMockStore()
	seedPolicy(store, "pol-1", "proj-1", true)
	store.datasets = []*dataset.Dataset{
		{ID: "ds-1", ProjectID: "proj-1", Name: "archive", CID: "bafy1"},
		{ID: "ds-2", ProjectID: "proj-1", Name: "media", CID: "bafy2"},
	}
	// ds-1 meets the policy; ds-2 is short one NA replica.
	store.deals["ds-1"] = []*dataset.Deal{
		{DatasetID: "ds-1", Region: "NA", Status: dataset.DealActive},
		{DatasetID: "ds-1", Region: "NA", Status: dataset.DealActive},
		{DatasetID: "ds-1", Region: "EU", Status: dataset.DealActive},
	}
	store.deals["ds-2"] = []*dataset.Deal{
		{DatasetID: "ds-2", Region: "NA", Status: dataset.DealActive},
		{DatasetID: "ds-2", Region: "EU", Status: dataset.DealActive},
	}

	svc := newPolicyService(store, &mockBus{})
	status, err := svc.GetComplianceStatus(context.Background(), "pol-1")
	if err != nil {
		t.Fatalf("GetComplianceStatus: %v", err)
	}

	if status.Compliant {
		t.Error("expected non-compliant status")
	}
	if len(status.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(status.Regions))
	}
	na := status.Regions[0]
	if na.Region != policy.RegionNA || na.Current != 1 || na.Compliant {
		t.Errorf("unexpected NA status: %+v", na)
	}
	eu := status.Regions[1]
	if eu.Region != policy.RegionEU || eu.Current != 1 || !eu.Compliant {
		t.Errorf("unexpected EU status: %+v", eu)
	}
	if !status.WithinBudget {
		t.Errorf("ceiling 100 covers 3 replicas at the default unit cost: %+v", status)
	}
}
