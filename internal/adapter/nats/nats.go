// Package nats implements the event bus port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/port/eventbus"
)

const streamName = "FILOPS"

// Bus implements eventbus.Bus using NATS JetStream.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"filops.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bus{nc: nc, js: js}, nil
}

// Publish marshals the envelope and sends it to the given topic.
func (b *Bus) Publish(ctx context.Context, topic string, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", env.Type, err)
	}
	if _, err := b.js.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a durable consumer for envelopes on the given topic.
func (b *Bus) Subscribe(ctx context.Context, topic, consumer string, handler eventbus.Handler) error {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("nats consumer create: %w", err)
	}

	_, err = cons.Consume(func(msg jetstream.Msg) {
		var env event.Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			slog.Error("malformed event dropped", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		if err := handler(context.Background(), env); err != nil {
			slog.Error("event handler failed", "subject", msg.Subject(), "type", env.Type, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return fmt.Errorf("nats consume: %w", err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is alive.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Drain flushes pending messages before shutdown.
func (b *Bus) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() {
	b.nc.Close()
}
