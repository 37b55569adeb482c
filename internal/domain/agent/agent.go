// Package agent defines agent instances, their lifecycle states, and
// the kind-specific configuration they run with. Agent records are
// owned by the registry service and mutated only through its
// transition operations.
package agent

import "time"

// Kind identifies what an agent does.
type Kind string

const (
	KindReplicaBalance   Kind = "replica_balance"
	KindPredictiveRenew  Kind = "predictive_renewal"
	KindPricingArbitrage Kind = "pricing_arbitrage"
)

// KnownKinds lists every registrable agent kind.
var KnownKinds = []Kind{KindReplicaBalance, KindPredictiveRenew, KindPricingArbitrage}

// Status is an agent lifecycle state.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Terminal reports whether the status admits no further transitions
// short of a fresh start.
func (s Status) Terminal() bool {
	return s == StatusStopped
}

// Agent is one registered agent instance bound to a project and a
// policy.
type Agent struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	ProjectID     string     `json:"project_id"`
	PolicyID      string     `json:"policy_id"`
	Status        Status     `json:"status"`
	Config        Config     `json:"config"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	ErrorCount    int        `json:"error_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HeartbeatMetrics is the optional counter snapshot an agent attaches
// to a heartbeat.
type HeartbeatMetrics struct {
	ActionsProposed int `json:"actions_proposed"`
	ActionsExecuted int `json:"actions_executed"`
	ErrorCount      int `json:"error_count"`
}

// Heartbeat is one liveness report from a running agent.
type Heartbeat struct {
	AgentID   string            `json:"agent_id"`
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status"`
	Metrics   *HeartbeatMetrics `json:"metrics,omitempty"`
}

// ErrorReport describes one failure inside an agent's loop.
type ErrorReport struct {
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// ListFilter narrows agent list queries. Zero-value fields match
// everything.
type ListFilter struct {
	ProjectID string
	PolicyID  string
	Kind      Kind
	Status    Status
}
