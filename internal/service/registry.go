package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	otelx "github.com/filops/filops/internal/adapter/otel"
	"github.com/filops/filops/internal/config"
	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/eventbus"
)

// LoopRunner starts a periodic task for one running agent. The task
// must exit when ctx is cancelled; an in-flight tick finishes first.
type LoopRunner interface {
	StartLoop(ctx context.Context, ag *agent.Agent)
}

// RegistryService owns agent records and their lifecycle transitions.
// For every running agent it supervises two goroutines: the agent's
// compliance loop and a heartbeat-staleness monitor, both cancelled
// together through one per-agent context.
type RegistryService struct {
	store   database.Store
	bus     eventbus.Bus
	cfg     config.Registry
	loops   LoopRunner
	metrics *otelx.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewRegistryService creates a RegistryService. metrics may be nil.
// Attach the compliance loop with SetLoopRunner before starting agents.
func NewRegistryService(store database.Store, bus eventbus.Bus, cfg config.Registry, metrics *otelx.Metrics) *RegistryService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RegistryService{
		store:      store,
		bus:        bus,
		cfg:        cfg,
		metrics:    metrics,
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// SetLoopRunner attaches the per-agent loop implementation. Setter
// injection breaks the registry/compliance construction cycle.
func (s *RegistryService) SetLoopRunner(lr LoopRunner) {
	s.loops = lr
}

// Register validates the kind-specific configuration, checks the bound
// policy exists and is active, and persists the agent in Created.
func (s *RegistryService) Register(ctx context.Context, kind agent.Kind, projectID, policyID string, cfg *agent.Config) (*agent.Agent, error) {
	c := agent.DefaultConfig(kind)
	if cfg != nil {
		c = *cfg
		c.Normalize(kind)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	p, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: policy %s", domain.ErrPolicyNotActive, policyID)
	}

	ag := &agent.Agent{
		ID:        uuid.NewString(),
		Kind:      kind,
		ProjectID: projectID,
		PolicyID:  policyID,
		Status:    agent.StatusCreated,
		Config:    c,
	}
	if err := s.store.CreateAgent(ctx, ag); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	s.publish(ctx, event.TypeAgentRegistered, ag)
	slog.Info("agent registered", "agent_id", ag.ID, "kind", kind, "policy_id", policyID)
	return ag, nil
}

// Get returns an agent by ID.
func (s *RegistryService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// List returns agents matching the filter.
func (s *RegistryService) List(ctx context.Context, filter agent.ListFilter) ([]*agent.Agent, error) {
	return s.store.ListAgents(ctx, filter)
}

// Start moves the agent to Running, resets its error bookkeeping,
// records a fresh heartbeat, and launches its loop and staleness
// monitor. Starting an already-running agent is a no-op; in particular
// the error counter is not reset again.
func (s *RegistryService) Start(ctx context.Context, id string) (*agent.Agent, error) {
	ag, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ag.Status == agent.StatusRunning {
		return ag, nil
	}

	if err := s.store.UpdateAgentStatus(ctx, id, agent.StatusRunning); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}
	if err := s.store.ResetAgentErrors(ctx, id); err != nil {
		return nil, fmt.Errorf("reset agent errors: %w", err)
	}
	now := time.Now().UTC()
	if err := s.store.UpdateAgentHeartbeat(ctx, id, now, agent.StatusRunning); err != nil {
		return nil, fmt.Errorf("record start heartbeat: %w", err)
	}

	ag.Status = agent.StatusRunning
	ag.LastHeartbeat = &now
	ag.ErrorCount = 0
	ag.ErrorMessage = ""

	s.launch(ag)
	s.publish(ctx, event.TypeAgentStarted, ag)
	slog.Info("agent started", "agent_id", id, "kind", ag.Kind)
	return ag, nil
}

// Pause stops the agent's loop and monitor and marks it Paused. An
// in-flight tick finishes; the next one never fires.
func (s *RegistryService) Pause(ctx context.Context, id string) (*agent.Agent, error) {
	return s.halt(ctx, id, agent.StatusPaused, event.TypeAgentPaused)
}

// Stop stops the agent's loop and monitor and marks it Stopped.
func (s *RegistryService) Stop(ctx context.Context, id string) (*agent.Agent, error) {
	return s.halt(ctx, id, agent.StatusStopped, event.TypeAgentStopped)
}

func (s *RegistryService) halt(ctx context.Context, id string, to agent.Status, eventType string) (*agent.Agent, error) {
	ag, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ag.Status.Terminal() {
		return nil, fmt.Errorf("agent %s is already stopped: %w", id, domain.ErrInvalidState)
	}

	s.stopTasks(id)
	if err := s.store.UpdateAgentStatus(ctx, id, to); err != nil {
		return nil, fmt.Errorf("update agent status: %w", err)
	}
	ag.Status = to
	s.publish(ctx, eventType, ag)
	slog.Info("agent halted", "agent_id", id, "status", to)
	return ag, nil
}

// Resume moves a Paused agent back to Running and relaunches its
// tasks. Any other state fails with ErrAgentNotPaused.
func (s *RegistryService) Resume(ctx context.Context, id string) (*agent.Agent, error) {
	ag, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ag.Status != agent.StatusPaused {
		return nil, fmt.Errorf("agent %s is %s: %w", id, ag.Status, domain.ErrAgentNotPaused)
	}

	if err := s.store.UpdateAgentStatus(ctx, id, agent.StatusRunning); err != nil {
		return nil, fmt.Errorf("resume agent: %w", err)
	}
	now := time.Now().UTC()
	if err := s.store.UpdateAgentHeartbeat(ctx, id, now, agent.StatusRunning); err != nil {
		return nil, fmt.Errorf("record resume heartbeat: %w", err)
	}

	ag.Status = agent.StatusRunning
	ag.LastHeartbeat = &now
	s.launch(ag)
	s.publish(ctx, event.TypeAgentResumed, ag)
	return ag, nil
}

// RecordHeartbeat unconditionally updates the agent's last-heartbeat
// timestamp and status, then publishes the heartbeat.
func (s *RegistryService) RecordHeartbeat(ctx context.Context, hb agent.Heartbeat) error {
	if err := s.store.UpdateAgentHeartbeat(ctx, hb.AgentID, hb.Timestamp, hb.Status); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	if s.bus != nil {
		env := event.New(event.TypeAgentHeartbeat, "registry", hb)
		if err := s.bus.Publish(ctx, eventbus.TopicAgentHeartbeat, env); err != nil {
			slog.Warn("failed to publish heartbeat", "agent_id", hb.AgentID, "error", err)
		}
	}
	return nil
}

// RecordError increments the agent's consecutive-error count, flips it
// to Error, and stores the message. Unknown agents are ignored. When
// the count reaches the configured threshold a critical alert is
// raised; the count only resets through Start.
func (s *RegistryService) RecordError(ctx context.Context, rep agent.ErrorReport) error {
	count, err := s.store.RecordAgentError(ctx, rep.AgentID, rep.Message)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("error report for unknown agent", "agent_id", rep.AgentID)
			return nil
		}
		return fmt.Errorf("record agent error: %w", err)
	}

	if s.bus != nil {
		env := event.New(event.TypeAgentError, "registry", rep)
		if err := s.bus.Publish(ctx, eventbus.TopicAgentActions, env); err != nil {
			slog.Warn("failed to publish error event", "agent_id", rep.AgentID, "error", err)
		}
	}
	slog.Error("agent error recorded", "agent_id", rep.AgentID, "count", count, "error", rep.Message)

	if count < s.cfg.ErrorAlertThreshold {
		return nil
	}
	ag, err := s.store.GetAgent(ctx, rep.AgentID)
	if err != nil {
		return fmt.Errorf("get agent for alert: %w", err)
	}
	a := &alert.Alert{
		ProjectID: ag.ProjectID,
		Severity:  alert.SeverityCritical,
		Summary:   fmt.Sprintf("Agent %s has failed %d consecutive times", rep.AgentID, count),
		Details: map[string]any{
			"agent_id":    rep.AgentID,
			"error_count": count,
			"last_error":  rep.Message,
		},
		Source: "registry",
	}
	return raiseAlert(ctx, s.store, s.bus, s.metrics, a)
}

// Alerts returns alerts matching the filter.
func (s *RegistryService) Alerts(ctx context.Context, filter alert.ListFilter) ([]*alert.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

// Close cancels every supervised goroutine and waits for in-flight
// ticks to finish.
func (s *RegistryService) Close() {
	s.baseCancel()
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// launch starts the monitor and, for replica-balance agents, the
// compliance loop under one per-agent context. Relaunching replaces
// the previous tasks.
func (s *RegistryService) launch(ag *agent.Agent) {
	s.mu.Lock()
	if cancel, ok := s.cancels[ag.ID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[ag.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(ctx, ag.ID)
	}()

	if ag.Kind == agent.KindReplicaBalance && s.loops != nil {
		s.loops.StartLoop(ctx, ag)
	}
}

func (s *RegistryService) stopTasks(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// monitor watches one agent's heartbeat freshness. It deregisters
// itself when the agent is no longer Running. Staleness alerts are
// deliberately not de-duplicated: a stuck agent raises one warning per
// monitor tick until it heartbeats again or is stopped.
func (s *RegistryService) monitor(ctx context.Context, agentID string) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ag, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			slog.Warn("staleness monitor lost its agent", "agent_id", agentID, "error", err)
			return
		}
		if ag.Status != agent.StatusRunning {
			return
		}
		if ag.LastHeartbeat == nil || time.Since(*ag.LastHeartbeat) <= s.cfg.StalenessThreshold {
			continue
		}

		a := &alert.Alert{
			ProjectID: ag.ProjectID,
			Severity:  alert.SeverityWarning,
			Summary:   fmt.Sprintf("Agent %s heartbeat is stale", agentID),
			Details: map[string]any{
				"agent_id":       agentID,
				"last_heartbeat": ag.LastHeartbeat.Format(time.RFC3339),
				"threshold":      s.cfg.StalenessThreshold.String(),
			},
			Source: "registry",
		}
		if err := raiseAlert(ctx, s.store, s.bus, s.metrics, a); err != nil {
			slog.Error("failed to raise staleness alert", "agent_id", agentID, "error", err)
		}
	}
}

func (s *RegistryService) publish(ctx context.Context, eventType string, ag *agent.Agent) {
	if s.bus == nil {
		return
	}
	env := event.New(eventType, "registry", map[string]any{
		"agent_id":   ag.ID,
		"kind":       ag.Kind,
		"project_id": ag.ProjectID,
		"policy_id":  ag.PolicyID,
		"status":     ag.Status,
	})
	if err := s.bus.Publish(ctx, eventbus.TopicAgentActions, env); err != nil {
		slog.Warn("failed to publish agent event", "type", eventType, "agent_id", ag.ID, "error", err)
	}
}
