// Package session tracks client sessions: one pending request at a time and
// a bounded queue of completed responses waiting to be pushed.
package session

import "time"

// State represents the lifecycle state of a session
type State string

const (
	// StateIdle accepts a new request
	StateIdle State = "idle"
	// StateBusy has one pending request
	StateBusy State = "busy"
	// StateClosed is terminal
	StateClosed State = "closed"
)

// ErrorBody is a client-facing error
type ErrorBody struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Message is a completed response queued for delivery
type Message struct {
	CorrelationID string     `json:"correlationId"`
	Sequence      uint64     `json:"sequence"`
	Result        any        `json:"result,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
	// Truncated marks the first message delivered after the queue
	// overflowed; Dropped is how many older messages were discarded.
	Truncated   bool      `json:"truncated,omitempty"`
	Dropped     int       `json:"dropped,omitempty"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Info is a read-only snapshot of a session
type Info struct {
	ID                   string    `json:"sessionId"`
	State                State     `json:"state"`
	CreatedAt            time.Time `json:"createdAt"`
	LastActivityAt       time.Time `json:"lastActivityAt"`
	PendingCorrelationID string    `json:"pendingCorrelationId,omitempty"`
	Queued               int       `json:"queued"`
	Dropped              int       `json:"dropped"`
	Subscribers          int       `json:"subscribers"`
}

// Subscription is a streaming consumer attached to a session. Notify fires
// (coalesced) when messages are queued; Done closes when the session closes.
type Subscription struct {
	Notify <-chan struct{}
	Done   <-chan struct{}
	cancel func()
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
