package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics exports the access control counters over OTLP alongside
// the Prometheus registry. HTTP and database instrumentation is not
// duplicated here; otelhttp covers the request surface when OTel is
// enabled.
type OTelMetrics struct {
	accessChecksTotal   metric.Int64Counter
	accessCheckDuration metric.Float64Histogram

	mutationsTotal metric.Int64Counter
	mutationFanOut metric.Int64Histogram
}

// NewOTelMetrics builds the instruments against the globally
// registered meter provider, so InitOTel must run first.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/gitpulse/gitpulse")

	m := &OTelMetrics{}
	var err error

	m.accessChecksTotal, err = meter.Int64Counter(
		"access.checks.total",
		metric.WithDescription("Total number of access checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access check counter: %w", err)
	}

	m.accessCheckDuration, err = meter.Float64Histogram(
		"access.check.duration",
		metric.WithDescription("Access check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access check histogram: %w", err)
	}

	m.mutationsTotal, err = meter.Int64Counter(
		"access.mutations.total",
		metric.WithDescription("Membership and delegation mutations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation counter: %w", err)
	}

	m.mutationFanOut, err = meter.Int64Histogram(
		"access.mutation.fanout",
		metric.WithDescription("Derived membership rows touched per mutation"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out histogram: %w", err)
	}

	return m, nil
}

// RecordAccessCheck records one access decision.
func (m *OTelMetrics) RecordAccessCheck(ctx context.Context, requiredRole, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("access.required_role", requiredRole),
		attribute.String("access.outcome", outcome),
	)
	m.accessChecksTotal.Add(ctx, 1, attrs)
	m.accessCheckDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordMutation records one membership or delegation mutation and,
// when it succeeded, the number of derived rows it touched.
func (m *OTelMetrics) RecordMutation(ctx context.Context, operation, status string, fanOut int64) {
	attrs := metric.WithAttributes(
		attribute.String("access.operation", operation),
		attribute.String("access.status", status),
	)
	m.mutationsTotal.Add(ctx, 1, attrs)
	if status == "ok" {
		m.mutationFanOut.Record(ctx, fanOut, attrs)
	}
}
