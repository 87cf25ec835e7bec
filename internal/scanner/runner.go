package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// waitDelay bounds how long Run waits for pipes to drain after the process
// is killed
const waitDelay = 2 * time.Second

// maxReasonLen caps stderr excerpts copied into outcome reasons
const maxReasonLen = 300

// Runner executes one scanner against one target. A global semaphore caps
// the number of scanner processes across all reviews.
type Runner struct {
	sem     *semaphore.Weighted
	tempDir string
	logger  *slog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithTempDir sets the parent directory for per-run temp dirs
func WithTempDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.tempDir = dir
	}
}

// WithRunnerLogger sets the logger
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner allowing at most maxInFlight concurrent
// scanner processes
func NewRunner(maxInFlight int, opts ...RunnerOption) *Runner {
	if maxInFlight < 1 {
		maxInFlight = config.DefaultMaxInFlight
	}
	r := &Runner{
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes d against target bounded by timeout (the descriptor's timeout
// when zero). It never returns an error: every failure mode is a RunOutcome.
func (r *Runner) Run(ctx context.Context, d Descriptor, target Target, timeout time.Duration) RunOutcome {
	ctx, span := startRunSpan(ctx, d, target.File)
	defer span.End()
	start := time.Now()

	out := r.run(ctx, d, target, timeout)
	out.Scanner = d.Name
	out.Duration = time.Since(start)

	setRunSpanResult(span, out)
	recordRunMetrics(ctx, out)

	r.logger.Debug("Scanner run finished",
		"scanner", d.Name,
		"file", target.File,
		"outcome", out.Status,
		"findings", len(out.Findings),
		"duration", out.Duration,
		"reason", out.Reason)
	return out
}

func (r *Runner) run(ctx context.Context, d Descriptor, target Target, timeout time.Duration) RunOutcome {
	if !d.Available {
		return failed(fmt.Errorf("%w: %s", types.ErrScannerUnavailable, d.Name))
	}
	if timeout <= 0 {
		timeout = d.Timeout
	}
	if timeout <= 0 {
		timeout = config.DefaultScannerTimeout
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return RunOutcome{
			Status: types.OutcomeTimedOut,
			Reason: "cancelled waiting for a scanner slot",
			Err:    err,
		}
	}
	defer r.sem.Release(1)
	recordInFlight(ctx, 1)
	defer recordInFlight(ctx, -1)

	dir, err := os.MkdirTemp(r.tempDir, "reviewd-"+d.Name+"-")
	if err != nil {
		return failed(fmt.Errorf("creating temp dir: %w", err))
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, targetName(target.File))
	if err := os.WriteFile(path, target.Content, 0o600); err != nil {
		return failed(fmt.Errorf("writing temp file: %w", err))
	}

	command := d.ResolvedPath
	if command == "" {
		command = d.Command
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, command, ExpandArgs(d.Args, path)...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if d.Input == InputStdin {
		cmd.Stdin = bytes.NewReader(target.Content)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return RunOutcome{
			Status: types.OutcomeTimedOut,
			Reason: fmt.Sprintf("timed out after %s", timeout),
			Err:    types.ErrScannerTimeout,
		}
	}
	if ctx.Err() != nil {
		return RunOutcome{
			Status: types.OutcomeTimedOut,
			Reason: ctx.Err().Error(),
			Err:    ctx.Err(),
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return failed(fmt.Errorf("starting %s: %w", d.Command, runErr))
		}
		// Many scanners exit non-zero when they find issues; only an
		// unexpected code with no output is a failure.
		if !d.IsSuccess(exitErr.ExitCode()) && stdout.Len() == 0 {
			return failed(fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), excerpt(stderr.String())))
		}
	}

	findings, err := Decode(d.Format, stdout.Bytes())
	if err != nil {
		return RunOutcome{
			Status: types.OutcomeFailed,
			Reason: err.Error(),
			Err:    err,
		}
	}

	for i := range findings {
		normalize(&findings[i], d, target.File)
	}
	return RunOutcome{
		Status:   types.OutcomeCompleted,
		Findings: findings,
	}
}

func failed(err error) RunOutcome {
	return RunOutcome{
		Status: types.OutcomeFailed,
		Reason: err.Error(),
		Err:    err,
	}
}

// normalize stamps the scanner identity and maps the temp path back to the
// caller's path. A run only ever sees one file, so every finding belongs to it.
func normalize(f *types.Finding, d Descriptor, file string) {
	f.File = file
	f.Tool = d.Name
	f.Tools = []string{d.Name}
	if !f.Severity.Valid() {
		f.Severity = types.SeverityMedium
	}
	if f.Line < 0 {
		f.Line = 0
	}
	if f.Category == "" || f.Category == types.CategoryOther {
		if d.Category != "" {
			f.Category = d.Category
		} else {
			f.Category = types.CategoryOther
		}
	}
}

// ExpandArgs substitutes the {file}, {dir} and {name} placeholders
func ExpandArgs(args []string, path string) []string {
	r := strings.NewReplacer(
		PlaceholderFile, path,
		PlaceholderDir, filepath.Dir(path),
		PlaceholderName, filepath.Base(path),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func targetName(file string) string {
	name := filepath.Base(filepath.Clean(file))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "content"
	}
	return name
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no output"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > maxReasonLen {
		s = s[:maxReasonLen]
	}
	return s
}
