package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() []Descriptor {
	return []Descriptor{
		{Name: "good", Command: "good", Format: FormatSARIF},
		{Name: "missing", Command: "missing", Format: FormatSARIF},
		{Name: "slow", Command: "slow", Format: FormatSARIF, ProbeTimeout: 50 * time.Millisecond},
		{Name: "off", Command: "off", Format: FormatSARIF},
	}
}

func fakeProbe(ctx context.Context, d Descriptor) (string, string, error) {
	switch d.Name {
	case "missing":
		return "", "", errors.New("not found on PATH")
	case "slow":
		<-ctx.Done()
		return "", "", ctx.Err()
	default:
		return "/usr/bin/" + d.Command, d.Command + " 1.0.0", nil
	}
}

func TestRegistryRefresh(t *testing.T) {
	r := NewRegistry(testCatalog(),
		WithProbe(fakeProbe),
		WithDisabled("off"),
		WithLogger(quietLogger()))

	if len(r.Available()) != 0 {
		t.Fatal("Expected nothing available before the first refresh")
	}
	if r.Refreshed() {
		t.Error("Expected Refreshed to be false before refresh")
	}

	start := time.Now()
	all := r.Refresh(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Slow probe should be bounded by its probe timeout, took %v", elapsed)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 descriptors, got %d", len(all))
	}

	available := r.Available()
	if len(available) != 1 || available[0].Name != "good" {
		t.Fatalf("Expected only 'good' available, got %v", Names(available))
	}
	if available[0].Version != "good 1.0.0" || available[0].ResolvedPath != "/usr/bin/good" {
		t.Errorf("Unexpected probe data %+v", available[0])
	}
	if r.AvailableCount() != 1 {
		t.Errorf("Expected AvailableCount 1, got %d", r.AvailableCount())
	}

	for _, d := range r.Describe() {
		switch d.Name {
		case "missing":
			if d.Available || !strings.Contains(d.ProbeError, "scanner unavailable") {
				t.Errorf("Unexpected missing descriptor %+v", d)
			}
		case "slow":
			if d.Available || !strings.Contains(d.ProbeError, "probe exceeded") {
				t.Errorf("Unexpected slow descriptor %+v", d)
			}
		case "off":
			if d.Available || d.ProbeError != "disabled by configuration" {
				t.Errorf("Unexpected disabled descriptor %+v", d)
			}
		}
	}
}

func TestRegistryAvailableDoesNotProbe(t *testing.T) {
	var probes atomic.Int32
	r := NewRegistry([]Descriptor{{Name: "a", Command: "a", Format: FormatLine}},
		WithProbe(func(ctx context.Context, d Descriptor) (string, string, error) {
			probes.Add(1)
			return "/bin/a", "", nil
		}),
		WithLogger(quietLogger()))

	r.Refresh(context.Background())
	for i := 0; i < 5; i++ {
		r.Available()
	}
	if probes.Load() != 1 {
		t.Errorf("Expected exactly 1 probe, got %d", probes.Load())
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry([]Descriptor{{Name: "a", Command: "a", Format: FormatLine, Args: []string{"x"}}},
		WithProbe(fakeProbe),
		WithLogger(quietLogger()))
	r.Refresh(context.Background())

	got := r.Available()
	got[0].Args[0] = "mutated"
	got[0].Available = false

	again, ok := r.Lookup("a")
	if !ok {
		t.Fatal("Expected lookup to succeed")
	}
	if again.Args[0] != "x" || !again.Available {
		t.Error("Mutating a returned descriptor must not affect the registry")
	}

	if _, ok := r.Lookup("nope"); ok {
		t.Error("Expected lookup of unknown scanner to fail")
	}
}

func TestRegistryDefaultTimeouts(t *testing.T) {
	r := NewRegistry([]Descriptor{{Name: "a", Command: "a", Format: FormatLine}},
		WithDefaultTimeouts(3*time.Second, 7*time.Second),
		WithLogger(quietLogger()))

	d, _ := r.Lookup("a")
	if d.ProbeTimeout != 3*time.Second || d.Timeout != 7*time.Second {
		t.Errorf("Expected default timeouts applied, got probe=%v run=%v", d.ProbeTimeout, d.Timeout)
	}
	if d.Input != InputPath {
		t.Errorf("Expected default input mode path, got %s", d.Input)
	}
}

func TestRegistrySetCatalogKeepsKnownStatus(t *testing.T) {
	r := NewRegistry([]Descriptor{{Name: "good", Command: "good", Format: FormatLine}},
		WithProbe(fakeProbe),
		WithLogger(quietLogger()))
	r.Refresh(context.Background())

	r.SetCatalog([]Descriptor{
		{Name: "good", Command: "good", Format: FormatLine},
		{Name: "new", Command: "new", Format: FormatLine},
	})

	if len(r.Describe()) != 2 {
		t.Fatalf("Expected 2 descriptors after SetCatalog, got %d", len(r.Describe()))
	}
	if r.AvailableCount() != 1 {
		t.Errorf("Expected previously probed scanner to stay available, got %d", r.AvailableCount())
	}

	r.Refresh(context.Background())
	if r.AvailableCount() != 2 {
		t.Errorf("Expected 2 available after refresh, got %d", r.AvailableCount())
	}
}

func TestProbeExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "fakescan")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho\necho 'fakescan 2.4.1'\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	path, version, err := ProbeExecutable(context.Background(), Descriptor{Command: script, VersionArgs: []string{"--version"}})
	if err != nil {
		t.Fatalf("ProbeExecutable failed: %v", err)
	}
	if path != script {
		t.Errorf("Expected path %s, got %s", script, path)
	}
	if version != "fakescan 2.4.1" {
		t.Errorf("Expected version 'fakescan 2.4.1', got %q", version)
	}

	if _, _, err := ProbeExecutable(context.Background(), Descriptor{Command: filepath.Join(dir, "absent")}); err == nil {
		t.Error("Expected error for missing executable")
	}
}
