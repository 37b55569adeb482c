package http

import (
	"context"
	"net/http"

	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/policy"
	"github.com/filops/filops/internal/port/eventbus"
	"github.com/filops/filops/internal/resilience"
	"github.com/filops/filops/internal/service"
)

// Pinger is the liveness slice of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Policies *service.PolicyService
	Registry *service.RegistryService
	Actions  *service.ActionService
	Bus      eventbus.Bus
	DB       Pinger
	Breakers map[string]*resilience.Breaker
}

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

type createPolicyResponse struct {
	Policy     *policy.Policy           `json:"policy"`
	Validation *policy.ValidationResult `json:"validation"`
}

// CreatePolicy handles POST /api/v1/policies
func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[policy.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "project_id and name are required")
		return
	}

	p, res, err := h.Policies.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "policy creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, createPolicyResponse{Policy: p, Validation: res})
}

// ValidatePolicy handles POST /api/v1/policies/validate
func (h *Handlers) ValidatePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		ProjectID string          `json:"project_id"`
		Doc       policy.Document `json:"doc"`
	}](w, r)
	if !ok {
		return
	}

	res, err := h.Policies.Validate(r.Context(), req.ProjectID, req.Doc)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPolicy handles GET /api/v1/policies/{id}
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPolicies handles GET /api/v1/projects/{id}/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	policies, err := h.Policies.List(r.Context(), urlParam(r, "id"), activeOnly)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if policies == nil {
		policies = []*policy.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// UpdatePolicy handles PUT /api/v1/policies/{id}
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[policy.UpdateRequest](w, r)
	if !ok {
		return
	}
	p, res, err := h.Policies.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, createPolicyResponse{Policy: p, Validation: res})
}

// ActivatePolicy handles POST /api/v1/policies/{id}/activate
func (h *Handlers) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Activate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeactivatePolicy handles POST /api/v1/policies/{id}/deactivate
func (h *Handlers) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Deactivate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePolicy handles DELETE /api/v1/policies/{id}
func (h *Handlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Policies.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PolicyCompliance handles GET /api/v1/policies/{id}/compliance
func (h *Handlers) PolicyCompliance(w http.ResponseWriter, r *http.Request) {
	status, err := h.Policies.GetComplianceStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

type registerAgentRequest struct {
	Kind      agent.Kind    `json:"kind"`
	ProjectID string        `json:"project_id"`
	PolicyID  string        `json:"policy_id"`
	Config    *agent.Config `json:"config,omitempty"`
}

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerAgentRequest](w, r)
	if !ok {
		return
	}
	if req.ProjectID == "" || req.PolicyID == "" {
		writeError(w, http.StatusBadRequest, "project_id and policy_id are required")
		return
	}

	ag, err := h.Registry.Register(r.Context(), req.Kind, req.ProjectID, req.PolicyID, req.Config)
	if err != nil {
		writeDomainError(w, err, "agent registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := agent.ListFilter{
		ProjectID: q.Get("project_id"),
		PolicyID:  q.Get("policy_id"),
		Kind:      agent.Kind(q.Get("kind")),
		Status:    agent.Status(q.Get("status")),
	}
	agents, err := h.Registry.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Registry.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// StartAgent handles POST /api/v1/agents/{id}/start
func (h *Handlers) StartAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Registry.Start(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// PauseAgent handles POST /api/v1/agents/{id}/pause
func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Registry.Pause(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// ResumeAgent handles POST /api/v1/agents/{id}/resume
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Registry.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// StopAgent handles POST /api/v1/agents/{id}/stop
func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.Registry.Stop(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// ListAgentActions handles GET /api/v1/agents/{id}/actions
func (h *Handlers) ListAgentActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.Actions.ListByAgent(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// GetAction handles GET /api/v1/actions/{id}
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Actions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ApproveAction handles POST /api/v1/actions/{id}/approve
func (h *Handlers) ApproveAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Actions.Approve(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RejectAction handles POST /api/v1/actions/{id}/reject
func (h *Handlers) RejectAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional; rejection without a reason is allowed.
	_ = readJSONOptional(r, &body)

	if err := h.Actions.Reject(r.Context(), urlParam(r, "id"), body.Reason); err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteAction handles POST /api/v1/actions/{id}/execute
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Actions.Execute(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ---------------------------------------------------------------------------
// Alerts and health
// ---------------------------------------------------------------------------

// ListAlerts handles GET /api/v1/alerts
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alert.ListFilter{
		ProjectID: q.Get("project_id"),
		Severity:  alert.Severity(q.Get("severity")),
		Status:    alert.Status(q.Get("status")),
	}
	alerts, err := h.Registry.Alerts(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["postgres"] = "down"
		} else {
			status["postgres"] = "up"
		}
	}
	if h.Bus != nil {
		if h.Bus.IsConnected() {
			status["nats"] = "up"
		} else {
			status["status"] = "degraded"
			status["nats"] = "down"
		}
	}
	if len(h.Breakers) > 0 {
		breakers := make(map[string]string, len(h.Breakers))
		for name, b := range h.Breakers {
			breakers[name] = b.State()
		}
		status["breakers"] = breakers
	}

	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
