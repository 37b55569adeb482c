// Package event defines the envelope published on the message bus and
// the catalog of event types.
package event

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current envelope schema version.
const SchemaVersion = "1.0"

// Envelope wraps every published event.
type Envelope struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Payload   any       `json:"payload"`
}

// New builds an envelope with a fresh UUID and the current time.
func New(eventType, source string, payload any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Source:    source,
		Version:   SchemaVersion,
		Payload:   payload,
	}
}

// Agent lifecycle events.
const (
	TypeAgentRegistered = "agent.registered"
	TypeAgentStarted    = "agent.started"
	TypeAgentPaused     = "agent.paused"
	TypeAgentResumed    = "agent.resumed"
	TypeAgentStopped    = "agent.stopped"
	TypeAgentHeartbeat  = "agent.heartbeat"
	TypeAgentError      = "agent.error"
)

// Replica-balance loop events.
const (
	TypeCheckStarted    = "rba.check.started"
	TypeCheckCompleted  = "rba.check.completed"
	TypeDeficitDetected = "rba.deficit.detected"
	TypeActionProposed  = "rba.action.proposed"
	TypeActionApproved  = "rba.action.approved"
	TypeActionRejected  = "rba.action.rejected"
	TypeActionExecuted  = "rba.action.executed"
	TypeActionFailed    = "rba.action.failed"
)

// Policy lifecycle events.
const (
	TypePolicyCreated     = "policy.created"
	TypePolicyUpdated     = "policy.updated"
	TypePolicyActivated   = "policy.activated"
	TypePolicyDeactivated = "policy.deactivated"
	TypePolicyDeleted     = "policy.deleted"
)

// Alert and deal events.
const (
	TypeAlertCreated = "alert.created"
	TypeDealCreated  = "deal.created"
)
