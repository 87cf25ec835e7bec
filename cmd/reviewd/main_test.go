package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AltairaLabs/codereview-mcp/internal/lifecycle"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewd.yaml")
	body := "lifecycle:\n  run_dir: " + filepath.Join(dir, "run") + "\n" +
		"scanners:\n  disabled: [semgrep, bandit, gitleaks, shellcheck, hadolint]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	want := []string{"serve", "start", "stop", "status", "scanners", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("Expected persistent --config flag")
	}
	if root.PersistentFlags().Lookup("debug") == nil {
		t.Error("Expected persistent --debug flag")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "reviewd "+version) {
		t.Errorf("Expected version output, got %q", out)
	}
}

func TestStatusNotRunning(t *testing.T) {
	out, err := execute(t, "status", "--config", writeConfig(t))
	if !errors.Is(err, lifecycle.ErrNotRunning) {
		t.Fatalf("Expected ErrNotRunning, got %v", err)
	}
	if lifecycle.ExitCode(err) != lifecycle.ExitNotRunning {
		t.Errorf("Expected exit code %d, got %d", lifecycle.ExitNotRunning, lifecycle.ExitCode(err))
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("Expected not running message, got %q", out)
	}
}

func TestStatusJSON(t *testing.T) {
	out, err := execute(t, "status", "--json", "--config", writeConfig(t))
	if !errors.Is(err, lifecycle.ErrNotRunning) {
		t.Fatalf("Expected ErrNotRunning, got %v", err)
	}
	if !strings.Contains(out, `"running": false`) {
		t.Errorf("Expected JSON status, got %q", out)
	}
}

func TestStopNotRunning(t *testing.T) {
	_, err := execute(t, "stop", "--config", writeConfig(t))
	if lifecycle.ExitCode(err) != lifecycle.ExitNotRunning {
		t.Errorf("Expected exit code %d, got %v", lifecycle.ExitNotRunning, err)
	}
}

func TestServeRefusesWhenLocked(t *testing.T) {
	cfgPath := writeConfig(t)
	runDir := filepath.Join(filepath.Dir(cfgPath), "run")
	lock := lifecycle.NewLock(filepath.Join(runDir, "reviewd.lock"), filepath.Join(runDir, "reviewd.pid"))
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	_, err := execute(t, "serve", "--config", cfgPath)
	if lifecycle.ExitCode(err) != lifecycle.ExitAlreadyRunning {
		t.Errorf("Expected exit code %d, got %v", lifecycle.ExitAlreadyRunning, err)
	}
}

func TestScannersCommandListsCatalog(t *testing.T) {
	out, err := execute(t, "scanners", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("scanners failed: %v", err)
	}
	for _, d := range scanner.Builtin() {
		if !strings.Contains(out, d.Name) {
			t.Errorf("Expected %s in output %q", d.Name, out)
		}
	}
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewd.yaml")
	if err := os.WriteFile(path, []byte("server:\n  http_addr: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "status", "--config", path)
	if lifecycle.ExitCode(err) != lifecycle.ExitError {
		t.Errorf("Expected exit code %d, got %v", lifecycle.ExitError, err)
	}
}
