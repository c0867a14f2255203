package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "swarmd"

// Metrics holds the daemon's metric instruments.
type Metrics struct {
	TasksCreated      metric.Int64Counter
	StatusTransitions metric.Int64Counter
	Registrations     metric.Int64Counter
	LockConflicts     metric.Int64Counter
	ResultsCollected  metric.Int64Counter
	WavesAdvanced     metric.Int64Counter
	CollectDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("swarmd.tasks.created",
		metric.WithDescription("Number of task cards created"))
	if err != nil {
		return nil, err
	}

	m.StatusTransitions, err = meter.Int64Counter("swarmd.tasks.transitions",
		metric.WithDescription("Number of task status transitions applied"))
	if err != nil {
		return nil, err
	}

	m.Registrations, err = meter.Int64Counter("swarmd.workers.registrations",
		metric.WithDescription("Number of worker registrations accepted"))
	if err != nil {
		return nil, err
	}

	m.LockConflicts, err = meter.Int64Counter("swarmd.locks.conflicts",
		metric.WithDescription("Number of group lock acquisitions refused"))
	if err != nil {
		return nil, err
	}

	m.ResultsCollected, err = meter.Int64Counter("swarmd.results.collected",
		metric.WithDescription("Number of completion records ingested"))
	if err != nil {
		return nil, err
	}

	m.WavesAdvanced, err = meter.Int64Counter("swarmd.waves.advanced",
		metric.WithDescription("Number of wave counter increments"))
	if err != nil {
		return nil, err
	}

	m.CollectDuration, err = meter.Float64Histogram("swarmd.collect.duration_seconds",
		metric.WithDescription("Collection pass duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
