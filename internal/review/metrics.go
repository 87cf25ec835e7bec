package review

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
	tracer = otel.Tracer("reviewd.review")
	meter  = otel.Meter("reviewd.review")
)

var (
	reviewLatency metric.Float64Histogram
	reviewTotal   metric.Int64Counter
	cacheHits     metric.Int64Counter
	mergedTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		reviewLatency, err = meter.Float64Histogram(
			"review_duration_seconds",
			metric.WithDescription("Duration of review orchestrations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reviewTotal, err = meter.Int64Counter(
			"reviews_total",
			metric.WithDescription("Completed reviews by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheHits, err = meter.Int64Counter(
			"review_cache_hits_total",
			metric.WithDescription("Reviews answered from the result cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mergedTotal, err = meter.Int64Counter(
			"review_findings_merged_total",
			metric.WithDescription("Findings folded into another tool's finding by dedup"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startReviewSpan(ctx context.Context, file string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Review",
		trace.WithAttributes(attribute.String("review.file", file)),
	)
}

func setReviewSpanResult(span trace.Span, r *types.ReviewResult) {
	span.SetAttributes(
		attribute.String("review.status", string(r.Status)),
		attribute.Int("review.findings", len(r.Findings)),
		attribute.Int("review.scanners", len(r.Scanners)),
		attribute.Bool("review.partial", r.Partial),
		attribute.Bool("review.cached", r.Cached),
	)
}

func recordReviewMetrics(ctx context.Context, r *types.ReviewResult, duration time.Duration, merged int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("status", string(r.Status)),
		attribute.Bool("partial", r.Partial),
	)
	reviewLatency.Record(ctx, duration.Seconds(), attrs)
	reviewTotal.Add(ctx, 1, attrs)
	if r.Cached {
		cacheHits.Add(ctx, 1)
	}
	if merged > 0 {
		mergedTotal.Add(ctx, int64(merged))
	}
}
