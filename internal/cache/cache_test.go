package cache

import (
	"testing"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

func TestNew(t *testing.T) {
	c := New(5 * time.Minute)
	defer c.Close()

	if c.results == nil {
		t.Error("Expected results map to be initialized")
	}
	if c.ttl != 5*time.Minute {
		t.Errorf("Expected TTL of 5 minutes, got %v", c.ttl)
	}
}

func TestStoreAndGet(t *testing.T) {
	c := New(5 * time.Minute)
	defer c.Close()

	result := &types.ReviewResult{File: "app.py", Status: types.ReviewStatusClean}
	if err := c.Store("k1", result); err != nil {
		t.Fatalf("Failed to store result: %v", err)
	}

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("Expected cached result")
	}
	if got.File != "app.py" {
		t.Errorf("Expected file app.py, got %s", got.File)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestStoreValidation(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	if err := c.Store("", &types.ReviewResult{}); err == nil {
		t.Error("Expected error for empty key")
	}
	if err := c.Store("k", nil); err == nil {
		t.Error("Expected error for nil result")
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Store("k", &types.ReviewResult{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); !ok {
		t.Fatal("Expected fresh entry")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected expired entry to miss")
	}

	c.cleanup()
	if c.Size() != 0 {
		t.Errorf("Expected cleanup to remove expired entry, size %d", c.Size())
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New(0)
	defer c.Close()

	if err := c.Store("k", &types.ReviewResult{}); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 0 {
		t.Errorf("Expected nothing cached, size %d", c.Size())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	_ = c.Store("a", &types.ReviewResult{})
	_ = c.Store("b", &types.ReviewResult{})

	c.Delete("a")
	if c.Size() != 1 {
		t.Errorf("Expected size 1, got %d", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Expected size 0, got %d", c.Size())
	}
}

func TestKey(t *testing.T) {
	k1 := Key("a.py", "x = 1", []string{"bandit", "semgrep"})
	k2 := Key("a.py", "x = 1", []string{"semgrep", "bandit"})
	if k1 != k2 {
		t.Error("Expected scanner order not to affect key")
	}

	if k1 == Key("a.py", "x = 2", []string{"bandit", "semgrep"}) {
		t.Error("Expected content to affect key")
	}
	if k1 == Key("b.py", "x = 1", []string{"bandit", "semgrep"}) {
		t.Error("Expected file to affect key")
	}
	if k1 == Key("a.py", "x = 1", []string{"bandit"}) {
		t.Error("Expected scanner set to affect key")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Close()
	c.Close()
}
