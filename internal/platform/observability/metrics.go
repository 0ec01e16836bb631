package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/platform/auth"
)

const meterName = "github.com/tableorder/api/internal/platform/observability"

// AuthMetrics records token verification outcomes as an otel counter and latency histogram.
type AuthMetrics struct {
	verifications metric.Int64Counter
	latency       metric.Float64Histogram
}

var _ auth.MetricsRecorder = (*AuthMetrics)(nil)

// NewAuthMetrics registers instruments on meter, or the global meter provider when nil.
func NewAuthMetrics(meter metric.Meter, logger *zap.Logger) *AuthMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &AuthMetrics{}
	var err error
	m.verifications, err = meter.Int64Counter("auth.verifications",
		metric.WithDescription("Staff token verification attempts by outcome"),
	)
	if err != nil {
		logger.Warn("observability: unable to register auth counter", zap.Error(err))
	}
	m.latency, err = meter.Float64Histogram("auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Staff token verification latency"),
	)
	if err != nil {
		logger.Warn("observability: unable to register auth latency", zap.Error(err))
	}
	return m
}

// RecordVerification implements auth.MetricsRecorder.
func (m *AuthMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	if m.verifications != nil {
		m.verifications.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
	}
}
