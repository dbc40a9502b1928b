package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	runCounter          metric.Int64Counter
	runFailureCounter   metric.Int64Counter
	runLatencyHistogram metric.Float64Histogram
)

// RunMetrics captures the fields needed to record provider run telemetry.
type RunMetrics struct {
	Provider string
	Outcome  string
	Duration time.Duration
}

// RecordRun emits counters and histograms that describe a single provider
// pipeline execution.
func RecordRun(ctx context.Context, metrics RunMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider.name", metrics.Provider),
		attribute.String("provider.outcome", metrics.Outcome),
	}

	runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		runLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if metrics.Outcome != "success" {
		runFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("newton.provider")

		runCounter, metricsInitErr = meter.Int64Counter(
			"provider.runs_total",
			metric.WithDescription("Provider pipeline executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runFailureCounter, metricsInitErr = meter.Int64Counter(
			"provider.run_failures_total",
			metric.WithDescription("Provider pipeline executions that produced an error result"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"provider.run_duration",
			metric.WithDescription("Latency distribution of provider pipeline executions"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
