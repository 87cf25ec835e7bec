package scanner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// ProbeFunc checks whether a scanner can run. It returns the resolved
// executable path and the reported version.
type ProbeFunc func(ctx context.Context, d Descriptor) (path, version string, err error)

// Registry is the set of catalogued scanners and their last probe results.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	catalog   []Descriptor
	snapshot  []Descriptor
	refreshed bool
	disabled  map[string]bool

	refreshMu    sync.Mutex
	probe        ProbeFunc
	probeTimeout time.Duration
	runTimeout   time.Duration
	logger       *slog.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithProbe replaces the default executable probe
func WithProbe(p ProbeFunc) RegistryOption {
	return func(r *Registry) {
		r.probe = p
	}
}

// WithDisabled marks scanners that are reported but never available
func WithDisabled(names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = true
		}
	}
}

// WithDefaultTimeouts sets the probe and run timeouts used when a descriptor
// leaves them zero
func WithDefaultTimeouts(probe, run time.Duration) RegistryOption {
	return func(r *Registry) {
		r.probeTimeout = probe
		r.runTimeout = run
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry over catalog. Nothing is available until the
// first Refresh.
func NewRegistry(catalog []Descriptor, opts ...RegistryOption) *Registry {
	r := &Registry{
		disabled:     make(map[string]bool),
		probe:        ProbeExecutable,
		probeTimeout: config.DefaultProbeTimeout,
		runTimeout:   config.DefaultScannerTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.catalog = r.normalize(catalog)
	r.snapshot = r.unprobed(r.catalog)
	return r
}

func (r *Registry) normalize(catalog []Descriptor) []Descriptor {
	out := make([]Descriptor, len(catalog))
	for i, d := range catalog {
		d = d.Clone()
		if d.Timeout <= 0 {
			d.Timeout = r.runTimeout
		}
		if d.ProbeTimeout <= 0 {
			d.ProbeTimeout = r.probeTimeout
		}
		if d.Input == "" {
			d.Input = InputPath
		}
		d.Available = false
		d.ResolvedPath, d.Version, d.ProbeError = "", "", ""
		out[i] = d
	}
	return out
}

func (r *Registry) unprobed(catalog []Descriptor) []Descriptor {
	out := make([]Descriptor, len(catalog))
	for i, d := range catalog {
		d = d.Clone()
		d.ProbeError = "not probed"
		out[i] = d
	}
	return out
}

// SetCatalog replaces the catalog. Availability is unknown until the next
// Refresh; until then the previous snapshot is kept for names still present.
func (r *Registry) SetCatalog(catalog []Descriptor) {
	normalized := r.normalize(catalog)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := make(map[string]Descriptor, len(r.snapshot))
	for _, d := range r.snapshot {
		prev[d.Name] = d
	}
	snapshot := r.unprobed(normalized)
	for i, d := range snapshot {
		if p, ok := prev[d.Name]; ok && p.Command == d.Command {
			snapshot[i].Available = p.Available
			snapshot[i].ResolvedPath = p.ResolvedPath
			snapshot[i].Version = p.Version
			snapshot[i].ProbeError = p.ProbeError
		}
	}
	r.catalog = normalized
	r.snapshot = snapshot
}

// Refresh probes every catalogued scanner concurrently. A failed probe marks
// only that scanner unavailable. Concurrent calls are serialized.
func (r *Registry) Refresh(ctx context.Context) []Descriptor {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.RLock()
	catalog := make([]Descriptor, len(r.catalog))
	for i, d := range r.catalog {
		catalog[i] = d.Clone()
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]Descriptor, len(catalog))
	var wg conc.WaitGroup
	for i, d := range catalog {
		wg.Go(func() {
			results[i] = r.probeOne(ctx, d)
		})
	}
	wg.Wait()

	available := 0
	for _, d := range results {
		if d.Available {
			available++
		}
	}
	recordRefreshMetrics(ctx, len(results), available, time.Since(start))

	r.mu.Lock()
	r.snapshot = results
	r.refreshed = true
	r.mu.Unlock()

	r.logger.Info("Scanner registry refreshed",
		"catalogued", len(results),
		"available", available,
		"duration", time.Since(start))

	return cloneAll(results)
}

func (r *Registry) probeOne(ctx context.Context, d Descriptor) Descriptor {
	if r.disabled[d.Name] {
		d.ProbeError = "disabled by configuration"
		return d
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.ProbeTimeout)
	defer cancel()

	path, version, err := r.probe(probeCtx, d)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: probe exceeded %s", types.ErrScannerUnavailable, d.ProbeTimeout)
		} else if !errors.Is(err, types.ErrScannerUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrScannerUnavailable, err)
		}
		d.ProbeError = err.Error()
		r.logger.Warn("Scanner not available",
			"scanner", d.Name,
			"command", d.Command,
			"error", err)
		return d
	}

	if _, ok := meetsMinVersion(version, d.MinVersion); !ok {
		d.ResolvedPath = path
		d.Version = version
		d.ProbeError = fmt.Sprintf("%v: version %q below minimum %s",
			types.ErrScannerUnavailable, version, d.MinVersion)
		r.logger.Warn("Scanner too old",
			"scanner", d.Name,
			"version", version,
			"min_version", d.MinVersion)
		return d
	}

	d.Available = true
	d.ResolvedPath = path
	d.Version = version
	r.logger.Info("Scanner available",
		"scanner", d.Name,
		"path", path,
		"version", version)
	return d
}

// ProbeExecutable resolves the command on PATH and runs its version
// invocation. The probe context bounds the version run.
func ProbeExecutable(ctx context.Context, d Descriptor) (string, string, error) {
	path, err := exec.LookPath(d.Command)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s not found on PATH", types.ErrScannerUnavailable, d.Command)
	}
	if len(d.VersionArgs) == 0 {
		return path, "", nil
	}

	cmd := exec.CommandContext(ctx, path, d.VersionArgs...)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", fmt.Errorf("%w: version check failed: %v", types.ErrScannerUnavailable, err)
	}
	return path, firstLine(out.Bytes()), nil
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

// Available returns the last-known-good available scanners without probing
func (r *Registry) Available() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.snapshot))
	for _, d := range r.snapshot {
		if d.Available {
			out = append(out, d.Clone())
		}
	}
	return out
}

// AvailableCount returns the number of available scanners
func (r *Registry) AvailableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, d := range r.snapshot {
		if d.Available {
			n++
		}
	}
	return n
}

// Describe returns every catalogued scanner with its probe status
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.snapshot)
}

// Lookup returns a catalogued scanner by name
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.snapshot {
		if d.Name == name {
			return d.Clone(), true
		}
	}
	return Descriptor{}, false
}

// Refreshed reports whether at least one Refresh has completed
func (r *Registry) Refreshed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}

func cloneAll(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = d.Clone()
	}
	return out
}
