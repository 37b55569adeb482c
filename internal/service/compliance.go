package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/filops/filops/internal/adapter/otel"
	"github.com/filops/filops/internal/domain/action"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/dataset"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/domain/policy"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/eventbus"
	"github.com/filops/filops/internal/port/providers"
)

// loopReporter is the slice of the registry the compliance loop feeds
// back into.
type loopReporter interface {
	RecordHeartbeat(ctx context.Context, hb agent.Heartbeat) error
	RecordError(ctx context.Context, rep agent.ErrorReport) error
}

// loopState holds one loop's cumulative counters. Owned exclusively by
// the loop goroutine, never persisted; a restarted loop starts at zero.
type loopState struct {
	checks           int
	deficitsDetected int
	actionsProposed  int
	actionsExecuted  int
	actionsFailed    int
	lastCheck        time.Time
}

// ComplianceService runs the periodic replica-balance check for each
// running agent: it compares active deal counts against the bound
// policy and proposes bounded remediation actions for any deficits.
type ComplianceService struct {
	store    database.Store
	bus      eventbus.Bus
	selector providers.Selector
	actions  *ActionService
	metrics  *otelx.Metrics
	reporter loopReporter
}

// NewComplianceService creates a ComplianceService. metrics may be
// nil. Attach the registry with SetReporter before starting loops.
func NewComplianceService(store database.Store, bus eventbus.Bus, selector providers.Selector, actions *ActionService, metrics *otelx.Metrics) *ComplianceService {
	return &ComplianceService{store: store, bus: bus, selector: selector, actions: actions, metrics: metrics}
}

// SetReporter attaches the registry the loop reports heartbeats and
// errors to.
func (s *ComplianceService) SetReporter(r loopReporter) {
	s.reporter = r
}

// StartLoop launches the agent's compliance loop. The loop ticks at
// the agent's configured check interval until ctx is cancelled;
// cancellation skips the next tick but never interrupts one in flight.
func (s *ComplianceService) StartLoop(ctx context.Context, ag *agent.Agent) {
	go s.run(ctx, ag)
}

func (s *ComplianceService) run(ctx context.Context, ag *agent.Agent) {
	st := &loopState{}
	ticker := time.NewTicker(ag.Config.CheckInterval)
	defer ticker.Stop()

	slog.Info("compliance loop started", "agent_id", ag.ID, "interval", ag.Config.CheckInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("compliance loop stopped", "agent_id", ag.ID, "checks", st.checks)
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			slog.Info("compliance loop stopped", "agent_id", ag.ID, "checks", st.checks)
			return
		}
		// A tick that has started runs to completion, remediation
		// included, even when the agent is paused or stopped mid-tick.
		// Only the select above observes the cancellation.
		s.tick(context.WithoutCancel(ctx), ag, st)
	}
}

// tick runs one check and converts any failure into an agent error
// report. A failed tick never stops the loop; the next one proceeds
// independently.
func (s *ComplianceService) tick(ctx context.Context, ag *agent.Agent, st *loopState) {
	if err := s.runCheck(ctx, ag, st); err != nil {
		slog.Error("compliance check failed", "agent_id", ag.ID, "error", err)
		rep := agent.ErrorReport{
			AgentID:   ag.ID,
			Timestamp: time.Now().UTC(),
			Message:   err.Error(),
			Context:   map[string]any{"policy_id": ag.PolicyID},
		}
		if rerr := s.reporter.RecordError(ctx, rep); rerr != nil {
			slog.Error("failed to report agent error", "agent_id", ag.ID, "error", rerr)
		}
	}
}

// runCheck is one compliance check. An inactive policy skips the whole
// tick: no counters, no heartbeat.
func (s *ComplianceService) runCheck(ctx context.Context, ag *agent.Agent, st *loopState) error {
	ctx, span := otelx.StartTickSpan(ctx, ag.ID, ag.PolicyID)
	defer span.End()
	start := time.Now()

	p, err := s.store.GetPolicy(ctx, ag.PolicyID)
	if err != nil {
		return fmt.Errorf("get policy: %w", err)
	}
	if !p.Active {
		slog.Debug("policy inactive, skipping check", "agent_id", ag.ID, "policy_id", p.ID)
		return nil
	}

	s.publish(ctx, event.TypeCheckStarted, map[string]any{
		"agent_id":  ag.ID,
		"policy_id": p.ID,
	})

	datasets, err := s.store.ListDatasets(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}

	remaining := ag.Config.MaxActionsPerRun
	for _, ds := range datasets {
		deals, err := s.store.ListActiveDeals(ctx, ds.ID)
		if err != nil {
			return fmt.Errorf("list deals for dataset %s: %w", ds.ID, err)
		}
		counts := make(map[policy.RegionCode]int)
		for _, d := range deals {
			counts[policy.RegionCode(d.Region)]++
		}

		deficits := policy.ComputeDeficits(p.Doc, counts)
		if len(deficits) == 0 {
			continue
		}

		st.deficitsDetected++
		if s.metrics != nil {
			s.metrics.DeficitsDetected.Add(ctx, 1)
		}
		if err := s.reportDeficits(ctx, ag, p, ds, deficits); err != nil {
			return err
		}
		if err := s.remediate(ctx, ag, p, ds, deficits, &remaining, st); err != nil {
			return err
		}
	}

	st.checks++
	st.lastCheck = time.Now().UTC()
	if s.metrics != nil {
		s.metrics.ChecksPerformed.Add(ctx, 1)
		s.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	}

	s.publish(ctx, event.TypeCheckCompleted, map[string]any{
		"agent_id":          ag.ID,
		"policy_id":         p.ID,
		"datasets_checked":  len(datasets),
		"deficits_detected": st.deficitsDetected,
	})

	hb := agent.Heartbeat{
		AgentID:   ag.ID,
		Timestamp: st.lastCheck,
		Status:    agent.StatusRunning,
		Metrics: &agent.HeartbeatMetrics{
			ActionsProposed: st.actionsProposed,
			ActionsExecuted: st.actionsExecuted,
			ErrorCount:      st.actionsFailed,
		},
	}
	if err := s.reporter.RecordHeartbeat(ctx, hb); err != nil {
		return fmt.Errorf("emit heartbeat: %w", err)
	}
	return nil
}

// reportDeficits raises the warning alert naming the dataset and
// publishes the deficit event.
func (s *ComplianceService) reportDeficits(ctx context.Context, ag *agent.Agent, p *policy.Policy, ds *dataset.Dataset, deficits []policy.Deficit) error {
	a := &alert.Alert{
		ProjectID: p.ProjectID,
		Severity:  alert.SeverityWarning,
		Summary:   fmt.Sprintf("Replica deficit detected for dataset %s", ds.Name),
		Details: map[string]any{
			"agent_id":   ag.ID,
			"policy_id":  p.ID,
			"dataset_id": ds.ID,
			"deficits":   deficits,
		},
		Source: "compliance",
	}
	if err := raiseAlert(ctx, s.store, s.bus, s.metrics, a); err != nil {
		return err
	}
	s.publish(ctx, event.TypeDeficitDetected, map[string]any{
		"agent_id":   ag.ID,
		"policy_id":  p.ID,
		"dataset_id": ds.ID,
		"deficits":   deficits,
	})
	return nil
}

// remediate proposes one create_deal action per missing replica, in
// policy-document region order, hard-capped by maxActionsPerRun across
// the whole tick. The cap is checked before each deficit; actions
// already proposed this tick are never rolled back.
func (s *ComplianceService) remediate(ctx context.Context, ag *agent.Agent, p *policy.Policy, ds *dataset.Dataset, deficits []policy.Deficit, remaining *int, st *loopState) error {
	for _, d := range deficits {
		if *remaining <= 0 {
			slog.Info("per-run action cap reached, deferring remediation",
				"agent_id", ag.ID, "dataset_id", ds.ID, "region", d.Region)
			return nil
		}

		cands, err := s.selector.FindBestProviders(ctx, providers.Query{
			Region:          string(d.Region),
			MinAvailability: p.Doc.AvailabilityTarget,
			MaxPrice:        p.Doc.CostCeilingUSDPerMonth,
			Limit:           d.Gap,
		})
		if err != nil {
			return fmt.Errorf("find providers for %s: %w", d.Region, err)
		}
		if len(cands) == 0 {
			slog.Warn("no candidate providers for deficit",
				"agent_id", ag.ID, "dataset_id", ds.ID, "region", d.Region, "gap", d.Gap)
			continue
		}

		n := min(d.Gap, len(cands))
		n = min(n, *remaining)
		for _, c := range cands[:n] {
			md := action.Metadata{
				Region:           c.Region,
				ProviderID:       c.ProviderID,
				EstimatedCost:    c.PriceUSDPerTiB,
				Reason:           fmt.Sprintf("Replica deficit in %s: %d/%d", d.Region, d.Current, d.Required),
				DatasetCID:       ds.CID,
				DatasetSizeBytes: ds.SizeBytes,
			}
			a, err := s.actions.Propose(ctx, ag.ID, ds.ID, action.KindCreateDeal, md)
			if err != nil {
				return err
			}
			st.actionsProposed++
			*remaining--

			if !ag.Config.AutoExecute {
				continue
			}
			if _, err := s.actions.Execute(ctx, a.ID); err != nil {
				st.actionsFailed++
				slog.Error("auto-execute failed", "agent_id", ag.ID, "action_id", a.ID, "error", err)
				continue
			}
			st.actionsExecuted++
		}
	}
	return nil
}

func (s *ComplianceService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	env := event.New(eventType, "compliance", payload)
	if err := s.bus.Publish(ctx, eventbus.TopicAgentActions, env); err != nil {
		slog.Warn("failed to publish compliance event", "type", eventType, "error", err)
	}
}
