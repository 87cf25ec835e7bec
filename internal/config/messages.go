package config

// Client-facing error codes returned in {error, message, retryable} bodies
const (
	CodeSessionBusy    = "session_busy"
	CodeUnknownSession = "unknown_session"
	CodeInvalidRequest = "invalid_request"
	CodeUnknownMethod  = "unknown_method"
	CodeInvalidParams  = "invalid_params"
	CodeRateLimited    = "rate_limited"
	CodeQueueFull      = "queue_full"
	CodeInternal       = "internal_error"
)

// Messages used throughout the service
const (
	// MsgSessionBusy is returned when a session already has a pending orchestration
	MsgSessionBusy = "session %s already has a pending request"
	// MsgUnknownMethod is the format string for unsupported methods
	MsgUnknownMethod = "unknown method %q"
	// MsgRateLimited is returned when the submission limiter rejects a request
	MsgRateLimited = "too many requests"
	// MsgQueueFull is returned when the dispatcher cannot accept more work
	MsgQueueFull = "review queue is full, retry later"
	// MsgReviewQueued is the MCP tool response for an accepted review
	MsgReviewQueued = "Review %s queued for %s; the result will arrive as a notification"
	// MsgDeadlineExceeded is the outcome reason for scanners cut off by the orchestration deadline
	MsgDeadlineExceeded = "orchestration deadline exceeded"
	// MsgNoScannersAvailable annotates fallback results
	MsgNoScannersAvailable = "no scanners available; built-in pattern checks only"
)
