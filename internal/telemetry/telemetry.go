// Package telemetry exports escalation metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/pkg/models"
)

const meterName = "tandem"

// ShutdownFunc flushes and stops the meter provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs an OTLP gRPC meter provider as the global provider when
// telemetry is enabled. Otherwise it returns a no-op provider.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (metric.MeterProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{}
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

// Recorder holds the tandem metric instruments.
type Recorder struct {
	executions        metric.Int64Counter
	escalations       metric.Int64Counter
	localSuccesses    metric.Int64Counter
	localFailures     metric.Int64Counter
	localLatency      metric.Float64Histogram
	escalationLatency metric.Float64Histogram
	qualityScore      metric.Float64Histogram
}

// NewRecorder creates the instruments on mp, or on the global provider when
// mp is nil.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	r := &Recorder{}
	var err error

	r.executions, err = meter.Int64Counter("tandem.executions",
		metric.WithDescription("Number of coordinated task executions"))
	if err != nil {
		return nil, err
	}

	r.escalations, err = meter.Int64Counter("tandem.escalations",
		metric.WithDescription("Number of tasks moved to the escalation tier"))
	if err != nil {
		return nil, err
	}

	r.localSuccesses, err = meter.Int64Counter("tandem.local.successes",
		metric.WithDescription("Tasks completed by the local tier"))
	if err != nil {
		return nil, err
	}

	r.localFailures, err = meter.Int64Counter("tandem.local.failures",
		metric.WithDescription("Local tier results that failed or were escalated"))
	if err != nil {
		return nil, err
	}

	r.localLatency, err = meter.Float64Histogram("tandem.local.latency_ms",
		metric.WithDescription("Local tier execution time"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	r.escalationLatency, err = meter.Float64Histogram("tandem.escalation.latency_ms",
		metric.WithDescription("Escalation tier execution time"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	r.qualityScore, err = meter.Float64Histogram("tandem.quality.score",
		metric.WithDescription("Quality score of accepted output"))
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Observe records one coordinator result. It matches coordinator.Observer.
func (r *Recorder) Observe(ctx context.Context, _ coordinator.Request, res *coordinator.Result) {
	if res == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tier", string(res.Tier)),
		attribute.Bool("success", res.Success),
	)
	r.executions.Add(ctx, 1, attrs)
	r.localLatency.Record(ctx, ms(res.LocalElapsed))

	switch {
	case res.Escalated:
		r.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", res.Reason)))
		r.localFailures.Add(ctx, 1)
		r.escalationLatency.Record(ctx, ms(res.EscalationElapsed))
	case res.Tier == models.TierLocal && res.Success:
		r.localSuccesses.Add(ctx, 1)
	default:
		r.localFailures.Add(ctx, 1)
	}

	if res.QualityScore != nil {
		r.qualityScore.Record(ctx, *res.QualityScore, attrs)
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
