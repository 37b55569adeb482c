// Package alert defines operator-facing alerts raised by the registry
// and the compliance loops.
package alert

import "time"

// Severity ranks how urgently an alert needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Status tracks the operator workflow on an alert. The core only ever
// creates alerts open; acknowledgement and resolution happen outside.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is one write-once notification about system state.
type Alert struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Severity  Severity       `json:"severity"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Status    Status         `json:"status"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListFilter narrows alert list queries.
type ListFilter struct {
	ProjectID string
	Severity  Severity
	Status    Status
}
