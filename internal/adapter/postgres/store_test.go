package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filops/filops/internal/adapter/postgres"
	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/action"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/policy"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func testDoc() policy.Document {
	return policy.Document{
		Replication: policy.Replication{Regions: []policy.RegionReplication{
			{Code: policy.RegionNA, MinReplicas: 2},
		}},
		AvailabilityTarget:     0.99,
		CostCeilingUSDPerMonth: 50,
		Renewal:                policy.Renewal{LeadTimeDays: 14, MinCollateralBufferPct: 20},
		ConflictStrategy:       policy.ConflictWarn,
	}
}

// createTestPolicy persists an active policy in a random project.
func createTestPolicy(t *testing.T, store *postgres.Store) *policy.Policy {
	t.Helper()
	p := &policy.Policy{
		ProjectID: "proj-" + uuid.New().String()[:8],
		Name:      "test policy",
		Doc:       testDoc(),
		Active:    true,
	}
	if err := store.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("create test policy: %v", err)
	}
	return p
}

func createTestAgent(t *testing.T, store *postgres.Store, p *policy.Policy) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		Kind:      agent.KindReplicaBalance,
		ProjectID: p.ProjectID,
		PolicyID:  p.ID,
		Config:    agent.DefaultConfig(agent.KindReplicaBalance),
	}
	if err := store.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("create test agent: %v", err)
	}
	return a
}

func TestPolicyCRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p := createTestPolicy(t, store)
	if p.ID == "" {
		t.Fatal("expected policy ID from insert")
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}

	got, err := store.GetPolicy(ctx, p.ID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Doc.Replication.Regions[0].Code != policy.RegionNA {
		t.Errorf("doc round-trip lost regions: %+v", got.Doc)
	}

	got.Name = "renamed"
	if err := store.UpdatePolicy(ctx, got); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", got.Version)
	}

	// Stale version loses.
	stale := *got
	stale.Version = 1
	if err := store.UpdatePolicy(ctx, &stale); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for stale update, got %v", err)
	}

	if err := store.SetPolicyActive(ctx, p.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	list, err := store.ListPolicies(ctx, p.ProjectID, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no active policies, got %d", len(list))
	}

	if err := store.DeletePolicy(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetPolicy(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.GetPolicy(context.Background(), uuid.NewString())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentLifecyclePersistence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p := createTestPolicy(t, store)
	a := createTestAgent(t, store, p)

	if a.Status != agent.StatusCreated {
		t.Fatalf("expected created status, got %s", a.Status)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.UpdateAgentHeartbeat(ctx, a.ID, now, agent.StatusRunning); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, err := store.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != agent.StatusRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.LastHeartbeat == nil || !got.LastHeartbeat.Equal(now) {
		t.Errorf("heartbeat not persisted: %v", got.LastHeartbeat)
	}
	if got.Config.CheckInterval != agent.DefaultCheckInterval {
		t.Errorf("config round-trip lost check interval: %v", got.Config.CheckInterval)
	}

	count, err := store.RecordAgentError(ctx, a.ID, "tick failed")
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected error count 1, got %d", count)
	}
	got, _ = store.GetAgent(ctx, a.ID)
	if got.Status != agent.StatusError || got.ErrorMessage != "tick failed" {
		t.Errorf("error not recorded: status=%s msg=%q", got.Status, got.ErrorMessage)
	}

	if err := store.ResetAgentErrors(ctx, a.ID); err != nil {
		t.Fatalf("reset errors: %v", err)
	}
	got, _ = store.GetAgent(ctx, a.ID)
	if got.ErrorCount != 0 || got.ErrorMessage != "" {
		t.Errorf("errors not reset: count=%d msg=%q", got.ErrorCount, got.ErrorMessage)
	}

	n, err := store.CountAgentsByPolicy(ctx, p.ID, []agent.Status{agent.StatusCreated, agent.StatusRunning, agent.StatusError})
	if err != nil {
		t.Fatalf("count agents: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 non-terminal agent, got %d", n)
	}
}

func TestTransitionActionGate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p := createTestPolicy(t, store)
	a := createTestAgent(t, store, p)

	act := &action.Action{
		AgentID:   a.ID,
		DatasetID: "ds-1",
		Kind:      action.KindCreateDeal,
		Metadata:  action.Metadata{Region: "NA", ProviderID: "f01000", Reason: "test"},
	}
	if err := store.CreateAction(ctx, act); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if act.Status != action.StatusProposed {
		t.Fatalf("expected proposed, got %s", act.Status)
	}

	// Proposed -> Executing succeeds.
	if err := store.TransitionAction(ctx, act.ID, action.ExecutableFrom, action.StatusExecuting); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Second attempt observes Executing and loses.
	err := store.TransitionAction(ctx, act.ID, action.ExecutableFrom, action.StatusExecuting)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	// Missing action reports ErrNotFound.
	err = store.TransitionAction(ctx, uuid.NewString(), action.ExecutableFrom, action.StatusExecuting)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.CompleteAction(ctx, act.ID, map[string]any{"deal_id": "123"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := store.GetAction(ctx, act.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != action.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ExecutedAt == nil {
		t.Error("expected executed_at to be set")
	}
	if got.Result["deal_id"] != "123" {
		t.Errorf("result not persisted: %v", got.Result)
	}
}

func TestAlertCreateAndFilter(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	projectID := "proj-" + uuid.New().String()[:8]
	al := &alert.Alert{
		ProjectID: projectID,
		Severity:  alert.SeverityCritical,
		Summary:   "agent failing",
		Details:   map[string]any{"error_count": 3},
		Source:    "registry",
	}
	if err := store.CreateAlert(ctx, al); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if al.Status != alert.StatusOpen {
		t.Errorf("expected open status, got %s", al.Status)
	}

	list, err := store.ListAlerts(ctx, alert.ListFilter{ProjectID: projectID, Severity: alert.SeverityCritical})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(list))
	}
	if list[0].Summary != "agent failing" {
		t.Errorf("unexpected alert: %+v", list[0])
	}

	list, err = store.ListAlerts(ctx, alert.ListFilter{ProjectID: projectID, Severity: alert.SeverityInfo})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("severity filter leaked %d alerts", len(list))
	}
}
