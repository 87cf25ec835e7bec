package dispatch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("reviewd.dispatch")

var (
	jobsTotal     metric.Int64Counter
	jobLatency    metric.Float64Histogram
	queueWait     metric.Float64Histogram
	queueDepth    metric.Int64UpDownCounter
	rejectedTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		jobsTotal, err = meter.Int64Counter(
			"dispatch_jobs_total",
			metric.WithDescription("Jobs executed by method and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		jobLatency, err = meter.Float64Histogram(
			"dispatch_job_duration_seconds",
			metric.WithDescription("Time spent executing a job"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queueWait, err = meter.Float64Histogram(
			"dispatch_queue_wait_seconds",
			metric.WithDescription("Time a job spent queued before a worker picked it up"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queueDepth, err = meter.Int64UpDownCounter(
			"dispatch_queue_depth",
			metric.WithDescription("Jobs waiting for a worker"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rejectedTotal, err = meter.Int64Counter(
			"dispatch_rejected_total",
			metric.WithDescription("Jobs rejected because the queue was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordJob(ctx context.Context, method string, err error, wait, duration time.Duration) {
	if initMetrics() != nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
	jobLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("method", method)))
	queueWait.Record(ctx, wait.Seconds())
}

func recordQueueDepth(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	queueDepth.Add(ctx, delta)
}

func recordRejected(ctx context.Context, method string) {
	if initMetrics() != nil {
		return
	}
	rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
