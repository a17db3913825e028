// Package otel holds warden's metric instruments, trace spans, and the HTTP
// instrumentation middleware.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "warden"

// Metrics holds all warden metric instruments.
type Metrics struct {
	CheckpointsSubmitted metric.Int64Counter
	VerdictsIssued       metric.Int64Counter
	GateChecks           metric.Int64Counter
	HolisticBatches      metric.Int64Counter
	OracleDuration       metric.Float64Histogram
	OracleFailures       metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CheckpointsSubmitted, err = meter.Int64Counter("warden.checkpoints.submitted",
		metric.WithDescription("Checkpoint submissions by kind"))
	if err != nil {
		return nil, err
	}

	m.VerdictsIssued, err = meter.Int64Counter("warden.verdicts.issued",
		metric.WithDescription("Review verdicts by kind and verdict"))
	if err != nil {
		return nil, err
	}

	m.GateChecks, err = meter.Int64Counter("warden.gate.checks",
		metric.WithDescription("Execution gate checks by outcome"))
	if err != nil {
		return nil, err
	}

	m.HolisticBatches, err = meter.Int64Counter("warden.holistic.batches",
		metric.WithDescription("Holistic review batches settled"))
	if err != nil {
		return nil, err
	}

	m.OracleDuration, err = meter.Float64Histogram("warden.oracle.duration_seconds",
		metric.WithDescription("Reviewer oracle call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.OracleFailures, err = meter.Int64Counter("warden.oracle.failures",
		metric.WithDescription("Reviewer oracle call failures"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// CountVerdict records one issued verdict. Nil receivers are allowed so
// services can run without metrics wired (tests, tools).
func (m *Metrics) CountVerdict(ctx context.Context, kind, verdict string) {
	if m == nil {
		return
	}
	m.VerdictsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("verdict", verdict),
	))
}

// CountCheckpoint records one checkpoint submission.
func (m *Metrics) CountCheckpoint(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CheckpointsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// CountGateCheck records one gate check with its outcome.
func (m *Metrics) CountGateCheck(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	m.GateChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

// CountHolisticBatch records one settled holistic batch of the given size.
func (m *Metrics) CountHolisticBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.HolisticBatches.Add(ctx, 1, metric.WithAttributes(attribute.Int("size", size)))
}

// RecordOracleCall records one oracle call's duration and failure status.
func (m *Metrics) RecordOracleCall(ctx context.Context, kind string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.OracleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
	if failed {
		m.OracleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
