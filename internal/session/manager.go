package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// ErrStopped is returned once the manager has shut down
var ErrStopped = errors.New("session manager stopped")

// Options configures a Manager
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	QueueSize     int
	Logger        *slog.Logger
	// Now overrides the clock; used by tests
	Now func() time.Time
}

type subscriber struct {
	notify chan struct{}
}

type session struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	state        State
	pending      string
	queue        []Message
	dropped      int
	seq          uint64
	subscribers  map[int]*subscriber
	done         chan struct{}
}

// Manager owns every session. All state lives in a single goroutine and
// every operation is a message to it, so no session field is ever shared.
type Manager struct {
	cmds    chan func()
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// owned by the actor goroutine
	sessions map[string]*session
	nextSub  int

	idleTimeout   time.Duration
	sweepInterval time.Duration
	queueSize     int
	now           func() time.Time
	logger        *slog.Logger

	active atomic.Int64
	gauge  metric.Registration
}

// NewManager creates a manager and starts its actor goroutine
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = config.DefaultSessionIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = config.DefaultSessionSweepInterval
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = config.DefaultSessionQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		cmds:          make(chan func()),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
		sessions:      make(map[string]*session),
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		queueSize:     opts.QueueSize,
		now:           opts.Now,
		logger:        opts.Logger,
	}
	m.gauge = registerGauge(m)
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			for id, s := range m.sessions {
				m.closeSession(s, "shutdown")
				delete(m.sessions, id)
			}
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it
func (m *Manager) do(fn func()) error {
	done := make(chan struct{})
	select {
	case m.cmds <- func() { fn(); close(done) }:
	case <-m.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// Open creates an idle session and returns its id
func (m *Manager) Open() (string, error) {
	id := uuid.NewString()
	err := m.do(func() {
		now := m.now()
		m.sessions[id] = &session{
			id:           id,
			createdAt:    now,
			lastActivity: now,
			state:        StateIdle,
			subscribers:  make(map[int]*subscriber),
			done:         make(chan struct{}),
		}
		m.active.Add(1)
	})
	if err != nil {
		return "", err
	}
	recordOpened(context.Background())
	m.logger.Debug("Session opened", "session_id", id)
	return id, nil
}

// Submit moves an idle session to busy with correlationID pending. It
// returns types.ErrSessionBusy if a request is already pending and
// types.ErrUnknownSession if the id is not open.
func (m *Manager) Submit(id, correlationID string) error {
	var result error
	err := m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			result = types.ErrUnknownSession
			return
		}
		if s.state == StateBusy {
			result = types.ErrSessionBusy
			return
		}
		s.state = StateBusy
		s.pending = correlationID
		s.lastActivity = m.now()
	})
	if err != nil {
		return err
	}
	return result
}

// Complete queues msg on the session and returns it to idle when msg answers
// the pending request. It returns false, discarding msg, if the session is
// closed or unknown.
func (m *Manager) Complete(id string, msg Message) bool {
	delivered := false
	dropped := false
	err := m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		if s.state == StateBusy && s.pending == msg.CorrelationID {
			s.state = StateIdle
			s.pending = ""
		}
		s.lastActivity = m.now()

		s.seq++
		msg.Sequence = s.seq
		if len(s.queue) >= m.queueSize {
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
			s.dropped++
			dropped = true
		}
		s.queue = append(s.queue, msg)
		for _, sub := range s.subscribers {
			select {
			case sub.notify <- struct{}{}:
			default:
			}
		}
		delivered = true
	})
	if err != nil {
		return false
	}
	if dropped {
		recordDropped(context.Background())
		m.logger.Warn("Session queue full, dropped oldest message",
			"session_id", id,
			"queue_size", m.queueSize)
	}
	if !delivered {
		m.logger.Debug("Discarding result for closed session",
			"session_id", id,
			"correlation_id", msg.CorrelationID)
	}
	return delivered
}

// Abort returns a busy session to idle without queuing anything. Used when
// an accepted request could not be dispatched.
func (m *Manager) Abort(id, correlationID string) {
	_ = m.do(func() {
		s, ok := m.sessions[id]
		if !ok || s.state != StateBusy || s.pending != correlationID {
			return
		}
		s.state = StateIdle
		s.pending = ""
	})
}

// Drain removes and returns every queued message without blocking
func (m *Manager) Drain(id string) ([]Message, error) {
	var out []Message
	var result error
	err := m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			result = types.ErrUnknownSession
			return
		}
		now := m.now()
		s.lastActivity = now
		if len(s.queue) == 0 {
			return
		}
		out = s.queue
		s.queue = nil
		if s.dropped > 0 {
			out[0].Truncated = true
			out[0].Dropped = s.dropped
			s.dropped = 0
		}
		for i := range out {
			out[i].DeliveredAt = now
		}
	})
	if err != nil {
		return nil, err
	}
	return out, result
}

// Subscribe attaches a streaming consumer. A session with subscribers never
// expires.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	var sub *Subscription
	var result error
	err := m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			result = types.ErrUnknownSession
			return
		}
		m.nextSub++
		key := m.nextSub
		entry := &subscriber{notify: make(chan struct{}, 1)}
		s.subscribers[key] = entry
		s.lastActivity = m.now()
		if len(s.queue) > 0 {
			entry.notify <- struct{}{}
		}

		var once sync.Once
		sub = &Subscription{
			Notify: entry.notify,
			Done:   s.done,
			cancel: func() {
				once.Do(func() { m.unsubscribe(id, key) })
			},
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, result
}

func (m *Manager) unsubscribe(id string, key int) {
	_ = m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		delete(s.subscribers, key)
		s.lastActivity = m.now()
	})
}

// Close tears down a session. Closing an unknown or already closed session is
// a no-op; the return value reports whether anything was closed.
func (m *Manager) Close(id string) bool {
	closed := false
	_ = m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		m.closeSession(s, "closed")
		delete(m.sessions, id)
		closed = true
	})
	return closed
}

// Get returns a snapshot of a session
func (m *Manager) Get(id string) (Info, bool) {
	var info Info
	found := false
	_ = m.do(func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		found = true
		info = Info{
			ID:                   s.id,
			State:                s.state,
			CreatedAt:            s.createdAt,
			LastActivityAt:       s.lastActivity,
			PendingCorrelationID: s.pending,
			Queued:               len(s.queue),
			Dropped:              s.dropped,
			Subscribers:          len(s.subscribers),
		}
	})
	return info, found
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	n := 0
	_ = m.do(func() {
		n = len(m.sessions)
	})
	return n
}

// Sweep closes idle sessions past the inactivity timeout and returns how
// many were closed. It also runs periodically.
func (m *Manager) Sweep() int {
	n := 0
	_ = m.do(func() {
		n = m.sweep()
	})
	return n
}

func (m *Manager) sweep() int {
	now := m.now()
	expired := 0
	for id, s := range m.sessions {
		if s.state != StateIdle || len(s.subscribers) > 0 {
			continue
		}
		if now.Sub(s.lastActivity) <= m.idleTimeout {
			continue
		}
		m.closeSession(s, "expired")
		delete(m.sessions, id)
		expired++
	}
	if expired > 0 {
		recordExpired(context.Background(), expired)
		m.logger.Info("Expired idle sessions", "count", expired)
	}
	return expired
}

// closeSession runs on the actor goroutine
func (m *Manager) closeSession(s *session, reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.queue = nil
	close(s.done)
	m.active.Add(-1)
	m.logger.Debug("Session closed", "session_id", s.id, "reason", reason)
}

// Shutdown closes every session and stops the actor
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		close(m.stop)
		if m.gauge != nil {
			_ = m.gauge.Unregister()
		}
	})
	<-m.stopped
}

// ActiveCount reads the open-session gauge without a round trip to the actor
func (m *Manager) ActiveCount() int64 {
	return m.active.Load()
}
