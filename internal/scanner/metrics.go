package scanner

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

var (
	tracer = otel.Tracer("reviewd.scanner")
	meter  = otel.Meter("reviewd.scanner")
)

var (
	runLatency      metric.Float64Histogram
	runTotal        metric.Int64Counter
	findingsTotal   metric.Int64Counter
	refreshLatency  metric.Float64Histogram
	availableGauge  metric.Int64Gauge
	inFlightCounter metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"scanner_run_duration_seconds",
			metric.WithDescription("Duration of scanner invocations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"scanner_runs_total",
			metric.WithDescription("Scanner invocations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		findingsTotal, err = meter.Int64Counter(
			"scanner_findings_total",
			metric.WithDescription("Findings decoded from scanner output"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		refreshLatency, err = meter.Float64Histogram(
			"scanner_refresh_duration_seconds",
			metric.WithDescription("Duration of registry refreshes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		availableGauge, err = meter.Int64Gauge(
			"scanners_available",
			metric.WithDescription("Scanners available after the last refresh"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		inFlightCounter, err = meter.Int64UpDownCounter(
			"scanner_processes_in_flight",
			metric.WithDescription("Scanner processes currently running"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, d Descriptor, file string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.Run",
		trace.WithAttributes(
			attribute.String("scanner.name", d.Name),
			attribute.String("scanner.format", string(d.Format)),
			attribute.String("review.file", file),
		),
	)
}

func setRunSpanResult(span trace.Span, o RunOutcome) {
	span.SetAttributes(
		attribute.String("scanner.outcome", string(o.Status)),
		attribute.Int("scanner.findings", len(o.Findings)),
	)
	if o.Reason != "" {
		span.SetAttributes(attribute.String("scanner.reason", o.Reason))
	}
}

func recordRunMetrics(ctx context.Context, o RunOutcome) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("scanner", o.Scanner),
		attribute.String("outcome", string(o.Status)),
	)
	runLatency.Record(ctx, o.Duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)

	if o.Status == types.OutcomeCompleted {
		findingsTotal.Add(ctx, int64(len(o.Findings)), metric.WithAttributes(
			attribute.String("scanner", o.Scanner),
		))
	}
}

func recordInFlight(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	inFlightCounter.Add(ctx, delta)
}

func recordRefreshMetrics(ctx context.Context, catalogued, available int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	refreshLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Int("catalogued", catalogued),
	))
	availableGauge.Record(ctx, int64(available))
}
