package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reviewd registers
const HealthService = "reviewd"

const probeTimeout = 2 * time.Second

// Options configures a Manager
type Options struct {
	LockPath     string
	PIDPath      string
	LogPath      string
	HTTPAddr     string
	GRPCAddr     string
	GracePeriod  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	// Executable overrides os.Executable for Start
	Executable string
	HTTPClient *http.Client
}

// HealthSnapshot mirrors the /health response body
type HealthSnapshot struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	ActiveSessions    int    `json:"activeSessions"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
	PID               int    `json:"pid"`
	ScannersAvailable int    `json:"scannersAvailable"`
}

// Status describes the running instance, if any
type Status struct {
	Running bool            `json:"running"`
	PID     int             `json:"pid,omitempty"`
	Health  *HealthSnapshot `json:"health,omitempty"`
	GRPC    string          `json:"grpc,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Manager starts, stops and inspects the reviewd process for one run directory
type Manager struct {
	opts   Options
	logger *slog.Logger
	client *http.Client
}

// NewManager creates a Manager
func NewManager(opts Options) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Manager{opts: opts, logger: logger, client: client}
}

// Lock returns the instance lock for serve to hold while running
func (m *Manager) Lock() *Lock {
	return NewLock(m.opts.LockPath, m.opts.PIDPath)
}

// Start launches a detached "serve" child with args and waits until it has
// written its PID file. Returns the child PID.
func (m *Manager) Start(ctx context.Context, args []string) (int, error) {
	if pid, held := m.Lock().Holder(); held {
		return 0, &LockError{HolderPID: pid, Path: m.opts.LockPath, Err: ErrAlreadyRunning}
	}

	exe := m.opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return 0, fmt.Errorf("failed to resolve executable: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(m.opts.LogPath), 0o700); err != nil {
		return 0, fmt.Errorf("failed to create run directory: %w", err)
	}
	logFile, err := os.OpenFile(m.opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachAttrs()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start reviewd: %w", err)
	}
	pid := cmd.Process.Pid

	// reap the child if it exits while we are still waiting on it
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	m.logger.Info("Started reviewd", "pid", pid, "log", m.opts.LogPath)

	deadline := time.NewTimer(m.opts.GracePeriod)
	defer deadline.Stop()
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		if ReadPID(m.opts.PIDPath) == pid {
			return pid, nil
		}
		select {
		case err := <-exited:
			return 0, fmt.Errorf("reviewd exited during startup (%v); see %s", err, m.opts.LogPath)
		case <-deadline.C:
			return pid, fmt.Errorf("reviewd (PID %d) did not write its PID file within %s", pid, m.opts.GracePeriod)
		case <-ctx.Done():
			return pid, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop sends the graceful signal, waits up to the grace period, then force
// kills. Only the PID of a lock holder is ever signalled; a PID file with no
// holder is removed and reported as not running.
func (m *Manager) Stop(ctx context.Context) error {
	pid, held := m.Lock().Holder()
	if !held {
		if pid > 0 {
			if err := os.Remove(m.opts.PIDPath); err != nil && !os.IsNotExist(err) {
				return &LockError{HolderPID: pid, Path: m.opts.PIDPath, Err: ErrStaleLock}
			}
		}
		return ErrNotRunning
	}
	if pid == 0 || !IsAlive(pid) {
		return fmt.Errorf("lock %s is held but PID file %s names no live process", m.opts.LockPath, m.opts.PIDPath)
	}

	m.logger.Info("Stopping reviewd", "pid", pid)
	if err := Terminate(pid, true); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to signal PID %d: %w", pid, err)
	}

	if m.waitExit(ctx, pid, m.opts.GracePeriod) {
		return nil
	}

	m.logger.Warn("Grace period elapsed, killing reviewd", "pid", pid, "grace_period", m.opts.GracePeriod)
	if err := Terminate(pid, false); err != nil && !errors.Is(err, ErrNotRunning) {
		return fmt.Errorf("failed to kill PID %d: %w", pid, err)
	}
	if !m.waitExit(ctx, pid, m.opts.GracePeriod) {
		return fmt.Errorf("PID %d still alive after kill", pid)
	}
	return nil
}

func (m *Manager) waitExit(ctx context.Context, pid int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for {
		if !IsAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !IsAlive(pid)
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// Status reports whether reviewd is running and, if so, probes its health
// endpoints
func (m *Manager) Status(ctx context.Context) Status {
	pid, held := m.Lock().Holder()
	if !held {
		return Status{}
	}
	st := Status{Running: true, PID: pid}

	health, err := m.probeHTTP(ctx)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Health = health
	}
	st.GRPC = m.probeGRPC(ctx)
	return st
}

func (m *Manager) probeHTTP(ctx context.Context) (*HealthSnapshot, error) {
	if m.opts.HTTPAddr == "" {
		return nil, errors.New("http address not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+m.opts.HTTPAddr+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	var snap HealthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &snap, nil
}

func (m *Manager) probeGRPC(ctx context.Context) string {
	if m.opts.GRPCAddr == "" {
		return "disabled"
	}
	conn, err := grpc.NewClient(m.opts.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "unreachable"
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return "unreachable"
	}
	return resp.GetStatus().String()
}
