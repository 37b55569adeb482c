package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "filops"

// Metrics holds all FilOps metric instruments.
type Metrics struct {
	ChecksPerformed  metric.Int64Counter
	DeficitsDetected metric.Int64Counter
	ActionsProposed  metric.Int64Counter
	ActionsExecuted  metric.Int64Counter
	ActionsFailed    metric.Int64Counter
	AlertsCreated    metric.Int64Counter
	TickDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ChecksPerformed, err = meter.Int64Counter("filops.compliance.checks",
		metric.WithDescription("Number of compliance checks performed"))
	if err != nil {
		return nil, err
	}

	m.DeficitsDetected, err = meter.Int64Counter("filops.compliance.deficits",
		metric.WithDescription("Number of datasets found with replica deficits"))
	if err != nil {
		return nil, err
	}

	m.ActionsProposed, err = meter.Int64Counter("filops.actions.proposed",
		metric.WithDescription("Number of remediation actions proposed"))
	if err != nil {
		return nil, err
	}

	m.ActionsExecuted, err = meter.Int64Counter("filops.actions.executed",
		metric.WithDescription("Number of remediation actions executed successfully"))
	if err != nil {
		return nil, err
	}

	m.ActionsFailed, err = meter.Int64Counter("filops.actions.failed",
		metric.WithDescription("Number of remediation actions that failed"))
	if err != nil {
		return nil, err
	}

	m.AlertsCreated, err = meter.Int64Counter("filops.alerts.created",
		metric.WithDescription("Number of alerts created"))
	if err != nil {
		return nil, err
	}

	m.TickDuration, err = meter.Float64Histogram("filops.compliance.tick_duration_seconds",
		metric.WithDescription("Compliance tick duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
