package server

import (
	"context"
	"log/slog"
	"time"
)

// AuditEntry is one logged request or delivery
type AuditEntry struct {
	Timestamp     time.Time
	SessionID     string
	CorrelationID string
	Method        string
	Transport     string
	ErrorMsg      string
}

// AuditLogger records every submission and every delivered result
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With("component", "audit"),
	}
}

// LogSubmit logs a submission and whether it was accepted
func (al *AuditLogger) LogSubmit(ctx context.Context, entry *AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ErrorMsg != "" {
		al.logger.WarnContext(ctx, "request_rejected",
			"session_id", entry.SessionID,
			"correlation_id", entry.CorrelationID,
			"method", entry.Method,
			"transport", entry.Transport,
			"error", entry.ErrorMsg,
			"timestamp", entry.Timestamp,
		)
		return
	}
	al.logger.InfoContext(ctx, "request_accepted",
		"session_id", entry.SessionID,
		"correlation_id", entry.CorrelationID,
		"method", entry.Method,
		"transport", entry.Transport,
		"timestamp", entry.Timestamp,
	)
}

// LogDelivery logs a result pushed to a client
func (al *AuditLogger) LogDelivery(ctx context.Context, entry *AuditEntry) {
	al.logger.DebugContext(ctx, "result_delivered",
		"session_id", entry.SessionID,
		"correlation_id", entry.CorrelationID,
		"transport", entry.Transport,
		"error", entry.ErrorMsg,
	)
}
