package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	otelx "github.com/filops/filops/internal/adapter/otel"
	"github.com/filops/filops/internal/config"
	"github.com/filops/filops/internal/domain/action"
	"github.com/filops/filops/internal/domain/dataset"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/dealmaker"
	"github.com/filops/filops/internal/port/eventbus"
)

// ActionService owns the action lifecycle state machine. Every status
// change goes through the store's guarded transitions, so concurrent
// callers racing on the same action fail with ErrInvalidState instead
// of double-executing.
type ActionService struct {
	store   database.Store
	bus     eventbus.Bus
	dealer  dealmaker.Executor
	dealCfg config.Synapse
	metrics *otelx.Metrics
}

// NewActionService creates an ActionService. metrics may be nil.
func NewActionService(store database.Store, bus eventbus.Bus, dealer dealmaker.Executor, dealCfg config.Synapse, metrics *otelx.Metrics) *ActionService {
	return &ActionService{store: store, bus: bus, dealer: dealer, dealCfg: dealCfg, metrics: metrics}
}

// Get returns an action by ID.
func (s *ActionService) Get(ctx context.Context, id string) (*action.Action, error) {
	return s.store.GetAction(ctx, id)
}

// ListByAgent returns all actions proposed by an agent, newest first.
func (s *ActionService) ListByAgent(ctx context.Context, agentID string) ([]*action.Action, error) {
	return s.store.ListActionsByAgent(ctx, agentID)
}

// Propose creates a new action in the Proposed state.
func (s *ActionService) Propose(ctx context.Context, agentID, datasetID string, kind action.Kind, md action.Metadata) (*action.Action, error) {
	a := &action.Action{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		DatasetID: datasetID,
		Kind:      kind,
		Status:    action.StatusProposed,
		Metadata:  md,
	}
	if err := s.store.CreateAction(ctx, a); err != nil {
		return nil, fmt.Errorf("propose action: %w", err)
	}
	s.publish(ctx, event.TypeActionProposed, a.ID, map[string]any{
		"agent_id":   a.AgentID,
		"dataset_id": a.DatasetID,
		"kind":       a.Kind,
		"metadata":   a.Metadata,
	})
	if s.metrics != nil {
		s.metrics.ActionsProposed.Add(ctx, 1)
	}
	return a, nil
}

// Approve transitions a Proposed action to Approved and immediately
// executes it.
func (s *ActionService) Approve(ctx context.Context, id string) (*action.Action, error) {
	if err := s.store.TransitionAction(ctx, id, []action.Status{action.StatusProposed}, action.StatusApproved); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	s.publish(ctx, event.TypeActionApproved, id, nil)
	return s.Execute(ctx, id)
}

// Reject transitions a Proposed action to Rejected, storing the reason.
func (s *ActionService) Reject(ctx context.Context, id, reason string) error {
	if err := s.store.RejectAction(ctx, id, reason); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	s.publish(ctx, event.TypeActionRejected, id, map[string]any{"reason": reason})
	return nil
}

// Execute runs the action's external side effect exactly once. The
// Proposed/Approved -> Executing gate is taken before the deal call;
// a losing concurrent caller gets ErrInvalidState. A collaborator
// failure leaves the action Failed and propagates to the caller; it is
// never retried here.
func (s *ActionService) Execute(ctx context.Context, id string) (*action.Action, error) {
	if err := s.store.TransitionAction(ctx, id, action.ExecutableFrom, action.StatusExecuting); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	a, err := s.store.GetAction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	ctx, span := otelx.StartActionSpan(ctx, id, string(a.Kind))
	defer span.End()

	res, err := s.dealer.CreateDeal(ctx, dealmaker.Params{
		DataCID:       a.Metadata.DatasetCID,
		ProviderID:    a.Metadata.ProviderID,
		DurationDays:  s.dealCfg.DefaultDurationDays,
		PriceFIL:      s.dealCfg.DefaultPriceFIL,
		CollateralFIL: s.dealCfg.DefaultCollateralFIL,
		Verified:      s.dealCfg.Verified,
	})
	if err != nil {
		if ferr := s.store.FailAction(ctx, id, err.Error()); ferr != nil {
			slog.Error("failed to mark action failed", "action_id", id, "error", ferr)
		}
		s.publish(ctx, event.TypeActionFailed, id, map[string]any{"error": err.Error()})
		if s.metrics != nil {
			s.metrics.ActionsFailed.Add(ctx, 1)
		}
		return nil, fmt.Errorf("execute action %s: %w", id, err)
	}

	if a.Kind == action.KindCreateDeal {
		s.recordDeal(ctx, a, res)
	}

	result := map[string]any{"deal_id": res.DealID, "tx_hash": res.TxHash}
	if err := s.store.CompleteAction(ctx, id, result); err != nil {
		return nil, fmt.Errorf("complete action %s: %w", id, err)
	}
	s.publish(ctx, event.TypeActionExecuted, id, result)
	if s.metrics != nil {
		s.metrics.ActionsExecuted.Add(ctx, 1)
	}

	return s.store.GetAction(ctx, id)
}

// recordDeal persists the deal created by a successful execution so the
// next compliance tick observes the new replica. Failures are logged,
// not propagated: the external deal exists regardless.
func (s *ActionService) recordDeal(ctx context.Context, a *action.Action, res *dealmaker.Result) {
	now := time.Now().UTC()
	d := &dataset.Deal{
		DatasetID:     a.DatasetID,
		ProviderID:    a.Metadata.ProviderID,
		Region:        a.Metadata.Region,
		ChainDealID:   res.DealID,
		Status:        dataset.DealActive,
		PriceFIL:      s.dealCfg.DefaultPriceFIL,
		CollateralFIL: s.dealCfg.DefaultCollateralFIL,
		StartAt:       now,
		ExpiryAt:      now.AddDate(0, 0, s.dealCfg.DefaultDurationDays),
	}
	if err := s.store.CreateDeal(ctx, d); err != nil {
		slog.Error("failed to record deal", "action_id", a.ID, "chain_deal_id", res.DealID, "error", err)
		return
	}
	if s.bus != nil {
		env := event.New(event.TypeDealCreated, "action-service", d)
		if err := s.bus.Publish(ctx, eventbus.TopicDealsCreated, env); err != nil {
			slog.Warn("failed to publish deal event", "deal_id", d.ID, "error", err)
		}
	}
}

func (s *ActionService) publish(ctx context.Context, eventType, actionID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["action_id"] = actionID
	env := event.New(eventType, "action-service", payload)
	if err := s.bus.Publish(ctx, eventbus.TopicAgentActions, env); err != nil {
		slog.Warn("failed to publish action event", "type", eventType, "action_id", actionID, "error", err)
	}
}
