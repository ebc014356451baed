package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "temporary-access/services"

	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
)

// Metrics instruments synthesis and request validation.
type Metrics struct {
	synthTotal       metric.Int64Counter
	revisionsTotal   metric.Int64Counter
	validationsTotal metric.Int64Counter
	synthDuration    metric.Float64Histogram
}

// NewMetrics registers the instruments on meter. A nil meter uses the global
// provider, which is a no-op until one is installed.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error
	if m.synthTotal, err = meter.Int64Counter("synth_total",
		metric.WithDescription("Template synthesis attempts by outcome")); err != nil {
		return nil, fmt.Errorf("register synth_total: %w", err)
	}
	if m.revisionsTotal, err = meter.Int64Counter("revisions_total",
		metric.WithDescription("Template revisions stored")); err != nil {
		return nil, fmt.Errorf("register revisions_total: %w", err)
	}
	if m.validationsTotal, err = meter.Int64Counter("request_validations_total",
		metric.WithDescription("Access request validations by outcome")); err != nil {
		return nil, fmt.Errorf("register request_validations_total: %w", err)
	}
	if m.synthDuration, err = meter.Float64Histogram("synth_duration_seconds",
		metric.WithDescription("Time spent synthesizing the template"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("register synth_duration_seconds: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordSynth(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.synthTotal.Add(ctx, 1, attrs)
	m.synthDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) recordRevision(ctx context.Context, stackName string) {
	if m == nil {
		return
	}
	m.revisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stack", stackName)))
}

func (m *Metrics) recordValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.validationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
