package service

import (
	"context"
	"fmt"
	"log/slog"

	otelx "github.com/filops/filops/internal/adapter/otel"
	"github.com/filops/filops/internal/domain/alert"
	"github.com/filops/filops/internal/domain/event"
	"github.com/filops/filops/internal/port/database"
	"github.com/filops/filops/internal/port/eventbus"
)

// raiseAlert persists an alert and publishes it. Publish failures are
// logged, not propagated; the persisted alert is the source of truth.
func raiseAlert(ctx context.Context, store database.Store, bus eventbus.Bus, metrics *otelx.Metrics, a *alert.Alert) error {
	if err := store.CreateAlert(ctx, a); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if metrics != nil {
		metrics.AlertsCreated.Add(ctx, 1)
	}
	if bus != nil {
		env := event.New(event.TypeAlertCreated, a.Source, a)
		if err := bus.Publish(ctx, eventbus.TopicAlerts, env); err != nil {
			slog.Warn("failed to publish alert event", "alert_id", a.ID, "error", err)
		}
	}
	return nil
}
