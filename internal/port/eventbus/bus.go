// Package eventbus defines the publish/subscribe port and the topic
// catalog.
package eventbus

import (
	"context"

	"github.com/filops/filops/internal/domain/event"
)

// Topics. Subjects under filops.> are carried by one stream.
const (
	TopicAgentActions   = "filops.agents.actions"
	TopicAgentHeartbeat = "filops.agents.heartbeat"
	TopicPolicyUpdates  = "filops.policies.updates"
	TopicAlerts         = "filops.alerts"
	TopicDealsCreated   = "filops.deals.created"
)

// Handler consumes one delivered envelope. Returning an error causes
// redelivery.
type Handler func(ctx context.Context, env event.Envelope) error

// Bus is the message-bus contract. Publish is awaited but
// fire-and-forget from the caller's perspective: a publish failure is
// a collaborator failure, not a state rollback.
type Bus interface {
	Publish(ctx context.Context, topic string, env event.Envelope) error
	Subscribe(ctx context.Context, topic, consumer string, handler Handler) error
	IsConnected() bool
	Drain() error
	Close()
}
