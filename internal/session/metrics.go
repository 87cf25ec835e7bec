package session

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("reviewd.session")

var (
	sessionEvents  metric.Int64Counter
	droppedTotal   metric.Int64Counter
	activeSessions metric.Int64ObservableGauge

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		sessionEvents, err = meter.Int64Counter(
			"session_events_total",
			metric.WithDescription("Session lifecycle events"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"session_messages_dropped_total",
			metric.WithDescription("Outbound messages dropped because a session queue was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeSessions, err = meter.Int64ObservableGauge(
			"sessions_active",
			metric.WithDescription("Open sessions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// registerGauge reports m's open-session count on every collection
func registerGauge(m *Manager) metric.Registration {
	if err := initMetrics(); err != nil {
		return nil
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(activeSessions, m.ActiveCount())
		return nil
	}, activeSessions)
	if err != nil {
		return nil
	}
	return reg
}

func recordOpened(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	sessionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "opened")))
}

func recordExpired(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	sessionEvents.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event", "expired")))
}

func recordDropped(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	droppedTotal.Add(ctx, 1)
}
