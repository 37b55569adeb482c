// Package action defines remediation actions and their lifecycle
// state machine. Actions are proposed by compliance loops and move
// through approval and execution under strict state preconditions so
// that an external deal is created at most once per action.
package action

import "time"

// Kind identifies what executing the action does.
type Kind string

const (
	KindCreateDeal    Kind = "create_deal"
	KindUpgradeSector Kind = "upgrade_sector"
)

// Status is an action lifecycle state.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the status is final. Terminal actions are
// immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// ExecutableFrom lists the states an action may be in when execution
// begins. Auto-execute skips approval, so Proposed qualifies.
var ExecutableFrom = []Status{StatusProposed, StatusApproved}

// Metadata describes what the action will do and why.
type Metadata struct {
	Region           string  `json:"region,omitempty"`
	ProviderID       string  `json:"provider_id,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	DatasetCID       string  `json:"dataset_cid,omitempty"`
	DatasetSizeBytes int64   `json:"dataset_size_bytes,omitempty"`
}

// Action is one proposed or executed remediation step.
type Action struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	DatasetID  string         `json:"dataset_id"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status"`
	Metadata   Metadata       `json:"metadata"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
}
