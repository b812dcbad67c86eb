// Package otel provides OpenTelemetry metric instruments and the meter
// provider setup for the agent core.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "skyscraper-agent-core"

// Metrics holds all metric instruments for the agent core.
type Metrics struct {
	TasksExecuted  metric.Int64Counter
	TaskRetries    metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	ChargesApplied metric.Int64Counter
	ChargesDenied  metric.Int64Counter
	ChargeCost     metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksExecuted, err = meter.Int64Counter("skyscraper.tasks.executed",
		metric.WithDescription("Task attempts by agent and classification"))
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("skyscraper.tasks.retries",
		metric.WithDescription("Task re-enqueues by agent"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("skyscraper.task.duration_seconds",
		metric.WithDescription("Task attempt duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ChargesApplied, err = meter.Int64Counter("skyscraper.charges.applied",
		metric.WithDescription("Successful wallet charges"))
	if err != nil {
		return nil, err
	}

	m.ChargesDenied, err = meter.Int64Counter("skyscraper.charges.denied",
		metric.WithDescription("Denied charges by error code"))
	if err != nil {
		return nil, err
	}

	m.ChargeCost, err = meter.Int64Histogram("skyscraper.charge.cost_tokens",
		metric.WithDescription("Charge cost in tokens"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
