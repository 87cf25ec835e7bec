package session_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, clock *fakeClock, queueSize int) *session.Manager {
	t.Helper()
	opts := session.Options{
		IdleTimeout:   5 * time.Minute,
		SweepInterval: time.Hour,
		QueueSize:     queueSize,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if clock != nil {
		opts.Now = clock.Now
	}
	m := session.NewManager(opts)
	t.Cleanup(m.Shutdown)
	return m
}

func mustOpen(t *testing.T, m *session.Manager) string {
	t.Helper()
	id, err := m.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return id
}

func TestManager_OpenAndGet(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	if id == "" {
		t.Fatal("Expected non-empty session id")
	}
	info, ok := m.Get(id)
	if !ok {
		t.Fatal("Expected to find session")
	}
	if info.State != session.StateIdle {
		t.Errorf("Expected state idle, got %s", info.State)
	}
	if _, ok := m.Get("non-existent"); ok {
		t.Error("Expected not to find non-existent session")
	}
}

func TestManager_SubmitTransitions(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	if err := m.Submit(id, "c1"); err != nil {
		t.Fatalf("Expected first submit to succeed, got %v", err)
	}
	info, _ := m.Get(id)
	if info.State != session.StateBusy {
		t.Errorf("Expected state busy, got %s", info.State)
	}
	if info.PendingCorrelationID != "c1" {
		t.Errorf("Expected pending c1, got %s", info.PendingCorrelationID)
	}

	if err := m.Submit(id, "c2"); !errors.Is(err, types.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}

	if !m.Complete(id, session.Message{CorrelationID: "c1", Result: "ok"}) {
		t.Fatal("Expected Complete to deliver")
	}
	info, _ = m.Get(id)
	if info.State != session.StateIdle {
		t.Errorf("Expected state idle after complete, got %s", info.State)
	}
	if err := m.Submit(id, "c2"); err != nil {
		t.Errorf("Expected submit after complete to succeed, got %v", err)
	}
}

func TestManager_SubmitUnknownSession(t *testing.T) {
	m := newManager(t, nil, 8)

	if err := m.Submit("missing", "c1"); !errors.Is(err, types.ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession, got %v", err)
	}
}

func TestManager_ConcurrentSubmitOneWins(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, busy := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Submit(id, "c")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, types.ErrSessionBusy):
				busy++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("Expected exactly 1 accepted submit, got %d", accepted)
	}
	if busy != callers-1 {
		t.Errorf("Expected %d busy rejections, got %d", callers-1, busy)
	}
}

func TestManager_Abort(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	_ = m.Submit(id, "c1")
	m.Abort(id, "other")
	if info, _ := m.Get(id); info.State != session.StateBusy {
		t.Errorf("Expected abort with wrong correlation id to be ignored, got %s", info.State)
	}

	m.Abort(id, "c1")
	info, _ := m.Get(id)
	if info.State != session.StateIdle {
		t.Errorf("Expected state idle after abort, got %s", info.State)
	}
	if info.Queued != 0 {
		t.Errorf("Expected nothing queued after abort, got %d", info.Queued)
	}
}

func TestManager_DrainOrderAndSequence(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	for _, c := range []string{"a", "b", "c"} {
		m.Complete(id, session.Message{CorrelationID: c})
	}

	msgs, err := m.Drain(id)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if msgs[i].CorrelationID != want {
			t.Errorf("Expected message %d to be %s, got %s", i, want, msgs[i].CorrelationID)
		}
		if msgs[i].Sequence != uint64(i+1) {
			t.Errorf("Expected sequence %d, got %d", i+1, msgs[i].Sequence)
		}
		if msgs[i].DeliveredAt.IsZero() {
			t.Error("Expected DeliveredAt to be set")
		}
	}

	msgs, _ = m.Drain(id)
	if len(msgs) != 0 {
		t.Errorf("Expected empty second drain, got %d", len(msgs))
	}

	if _, err := m.Drain("missing"); !errors.Is(err, types.ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession, got %v", err)
	}
}

func TestManager_QueueOverflowDropsOldest(t *testing.T) {
	m := newManager(t, nil, 2)
	id := mustOpen(t, m)

	for _, c := range []string{"a", "b", "c", "d"} {
		m.Complete(id, session.Message{CorrelationID: c})
	}

	info, _ := m.Get(id)
	if info.Dropped != 2 {
		t.Errorf("Expected 2 dropped, got %d", info.Dropped)
	}

	msgs, _ := m.Drain(id)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].CorrelationID != "c" || msgs[1].CorrelationID != "d" {
		t.Errorf("Expected newest messages c and d, got %s and %s", msgs[0].CorrelationID, msgs[1].CorrelationID)
	}
	if !msgs[0].Truncated || msgs[0].Dropped != 2 {
		t.Errorf("Expected first message truncated with 2 dropped, got truncated=%v dropped=%d", msgs[0].Truncated, msgs[0].Dropped)
	}
	if msgs[1].Truncated {
		t.Error("Expected only the first message to carry the truncated marker")
	}

	m.Complete(id, session.Message{CorrelationID: "e"})
	msgs, _ = m.Drain(id)
	if len(msgs) != 1 || msgs[0].Truncated {
		t.Error("Expected truncated marker to be cleared after delivery")
	}
}

func TestManager_CompleteOnClosedSession(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)
	_ = m.Submit(id, "c1")

	if !m.Close(id) {
		t.Fatal("Expected Close to report closing the session")
	}
	if m.Complete(id, session.Message{CorrelationID: "c1"}) {
		t.Error("Expected Complete on a closed session to return false")
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	if !m.Close(id) {
		t.Error("Expected first Close to return true")
	}
	if m.Close(id) {
		t.Error("Expected second Close to return false")
	}
	if m.Close("never-existed") {
		t.Error("Expected Close of unknown id to return false")
	}
}

func TestManager_Count(t *testing.T) {
	m := newManager(t, nil, 8)
	a := mustOpen(t, m)
	mustOpen(t, m)
	mustOpen(t, m)
	m.Close(a)

	if got := m.Count(); got != 2 {
		t.Errorf("Expected 2 open sessions, got %d", got)
	}
	if got := m.ActiveCount(); got != 2 {
		t.Errorf("Expected active gauge 2, got %d", got)
	}
}

func TestManager_SweepExpiresIdle(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, clock, 8)

	stale := mustOpen(t, m)
	clock.Advance(4 * time.Minute)
	fresh := mustOpen(t, m)
	clock.Advance(2 * time.Minute)

	if got := m.Sweep(); got != 1 {
		t.Errorf("Expected 1 session to expire, got %d", got)
	}
	if _, ok := m.Get(stale); ok {
		t.Error("Expected stale session to be expired")
	}
	if _, ok := m.Get(fresh); !ok {
		t.Error("Expected fresh session to survive")
	}
}

func TestManager_SweepSkipsBusyAndSubscribed(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, clock, 8)

	busy := mustOpen(t, m)
	_ = m.Submit(busy, "c1")

	subscribed := mustOpen(t, m)
	sub, err := m.Subscribe(subscribed)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	clock.Advance(time.Hour)
	if got := m.Sweep(); got != 0 {
		t.Errorf("Expected no sessions to expire, got %d", got)
	}

	sub.Close()
	sub.Close()
	clock.Advance(time.Hour)
	if got := m.Sweep(); got != 1 {
		t.Errorf("Expected the unsubscribed session to expire, got %d", got)
	}
	if _, ok := m.Get(busy); !ok {
		t.Error("Expected busy session to survive")
	}
}

func TestManager_DrainCountsAsActivity(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, clock, 8)
	id := mustOpen(t, m)

	clock.Advance(4 * time.Minute)
	_, _ = m.Drain(id)
	clock.Advance(4 * time.Minute)

	if got := m.Sweep(); got != 0 {
		t.Errorf("Expected recently drained session to survive, got %d expired", got)
	}
}

func TestManager_SubscribeNotifyAndDone(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)

	sub, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	m.Complete(id, session.Message{CorrelationID: "c1"})
	select {
	case <-sub.Notify:
	case <-time.After(time.Second):
		t.Fatal("Expected notification after Complete")
	}

	m.Close(id)
	select {
	case <-sub.Done:
	case <-time.After(time.Second):
		t.Fatal("Expected done channel to close with the session")
	}

	if _, err := m.Subscribe("missing"); !errors.Is(err, types.ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession, got %v", err)
	}
}

func TestManager_SubscribeWithBacklogNotifiesImmediately(t *testing.T) {
	m := newManager(t, nil, 8)
	id := mustOpen(t, m)
	m.Complete(id, session.Message{CorrelationID: "c1"})

	sub, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	select {
	case <-sub.Notify:
	default:
		t.Error("Expected pending notification for queued messages")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := session.NewManager(session.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	id, _ := m.Open()
	sub, _ := m.Subscribe(id)

	m.Shutdown()
	m.Shutdown()

	select {
	case <-sub.Done:
	default:
		t.Error("Expected sessions to close on shutdown")
	}
	if _, err := m.Open(); !errors.Is(err, session.ErrStopped) {
		t.Errorf("Expected ErrStopped after shutdown, got %v", err)
	}
	if m.Complete(id, session.Message{}) {
		t.Error("Expected Complete to fail after shutdown")
	}
	sub.Close()
}
