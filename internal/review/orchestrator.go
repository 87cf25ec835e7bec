package review

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/AltairaLabs/codereview-mcp/internal/cache"
	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// ScannerSource provides the currently available scanners
type ScannerSource interface {
	Available() []scanner.Descriptor
}

// ScannerRunner runs one scanner against one target
type ScannerRunner interface {
	Run(ctx context.Context, d scanner.Descriptor, target scanner.Target, timeout time.Duration) scanner.RunOutcome
}

// Options configures an Orchestrator
type Options struct {
	// MaxParallel caps concurrent scanner runs within one review
	MaxParallel int
	// Deadline bounds a whole review regardless of per-scanner timeouts
	Deadline    time.Duration
	DedupWindow int
	// Cache is optional; nil disables result caching
	Cache cache.Interface
	// FailOn is the default severity gate when a request names none
	FailOn types.Severity
	Logger *slog.Logger
}

// Orchestrator runs a review end to end
type Orchestrator struct {
	scanners    ScannerSource
	runner      ScannerRunner
	aggregator  *Aggregator
	cache       cache.Interface
	maxParallel int
	deadline    time.Duration
	failOn      types.Severity
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(scanners ScannerSource, runner ScannerRunner, opts Options) *Orchestrator {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = config.DefaultMaxParallel
	}
	if opts.Deadline <= 0 {
		opts.Deadline = config.DefaultReviewDeadline
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		scanners:    scanners,
		runner:      runner,
		aggregator:  NewAggregator(opts.DedupWindow),
		cache:       opts.Cache,
		maxParallel: opts.MaxParallel,
		deadline:    opts.Deadline,
		failOn:      opts.FailOn,
		logger:      opts.Logger,
	}
}

type indexedOutcome struct {
	index   int
	outcome scanner.RunOutcome
}

// Review always returns a result. Scanner failures are absorbed into the
// per-scanner reports; zero usable scanners produce a degraded fallback result.
func (o *Orchestrator) Review(ctx context.Context, req types.ReviewRequest) *types.ReviewResult {
	ctx, span := startReviewSpan(ctx, req.File)
	defer span.End()
	start := time.Now()

	selected := o.Select(req)
	failOn := req.FailOn
	if failOn == "" {
		failOn = o.failOn
	}

	var result *types.ReviewResult
	merged := 0
	switch {
	case len(selected) == 0:
		result = o.fallback(req)

	default:
		key := cache.Key(req.File, req.Content, scanner.Names(selected))
		if cached, ok := o.lookup(key); ok {
			result = cached
			break
		}

		outcomes, partial := o.fanOut(ctx, selected, scanner.Target{File: req.File, Content: []byte(req.Content)})
		result = o.aggregator.Aggregate(req.File, outcomes)
		result.Partial = partial
		merged = rawFindings(outcomes) - len(result.Findings)

		if o.cache != nil && !result.Partial && result.Status != types.ReviewStatusInconclusive {
			if err := o.cache.Store(key, result); err != nil {
				o.logger.Warn("Failed to cache review result", "file", req.File, "error", err)
			}
		}
	}

	// cached results are shared, so per-request fields go on a copy
	out := *result
	out.DurationMs = time.Since(start).Milliseconds()
	out.MethodologyCompliance = Compliance(&out, failOn)

	setReviewSpanResult(span, &out)
	recordReviewMetrics(ctx, &out, time.Since(start), merged)

	o.logger.Info("Review completed",
		"file", req.File,
		"status", out.Status,
		"findings", len(out.Findings),
		"scanners", len(out.Scanners),
		"partial", out.Partial,
		"cached", out.Cached,
		"duration_ms", out.DurationMs)
	return &out
}

// Select returns available scanners that apply to the file, narrowed to the
// requested subset when one is given, ordered by name
func (o *Orchestrator) Select(req types.ReviewRequest) []scanner.Descriptor {
	var selected []scanner.Descriptor
	for _, d := range o.scanners.Available() {
		if !d.AppliesTo(req.File) {
			continue
		}
		if len(req.Scanners) > 0 && !slices.Contains(req.Scanners, d.Name) {
			continue
		}
		selected = append(selected, d)
	}
	slices.SortFunc(selected, func(a, b scanner.Descriptor) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return selected
}

func (o *Orchestrator) lookup(key string) (*types.ReviewResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	hit, ok := o.cache.Get(key)
	if !ok {
		return nil, false
	}
	r := *hit
	r.Cached = true
	return &r, true
}

// fanOut runs every selected scanner through a bounded pool and collects
// outcomes until all arrive or the review deadline passes. Outcomes still
// missing at the deadline are reported as timed out and the review is partial.
func (o *Orchestrator) fanOut(ctx context.Context, selected []scanner.Descriptor, target scanner.Target) ([]scanner.RunOutcome, bool) {
	deadlineCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	results := make(chan indexedOutcome, len(selected))
	p := pool.New().WithMaxGoroutines(o.maxParallel)
	go func() {
		for i, d := range selected {
			p.Go(func() {
				results <- indexedOutcome{index: i, outcome: o.runner.Run(deadlineCtx, d, target, d.Timeout)}
			})
		}
		p.Wait()
	}()

	outcomes := make([]scanner.RunOutcome, len(selected))
	received := make([]bool, len(selected))
	count := 0
collect:
	for count < len(selected) {
		select {
		case r := <-results:
			outcomes[r.index] = r.outcome
			received[r.index] = true
			count++
		case <-deadlineCtx.Done():
			break collect
		}
	}

	partial := false
	for i, d := range selected {
		if !received[i] {
			outcomes[i] = deadlineOutcome(d.Name, time.Duration(0))
			partial = true
			continue
		}
		// a run cut short by the shared deadline rather than its own timeout
		if outcomes[i].Status == types.OutcomeTimedOut && deadlineCtx.Err() != nil &&
			(errors.Is(outcomes[i].Err, context.DeadlineExceeded) || errors.Is(outcomes[i].Err, context.Canceled)) {
			outcomes[i] = deadlineOutcome(d.Name, outcomes[i].Duration)
			partial = true
		}
	}
	if partial {
		o.logger.Warn("Review deadline exceeded",
			"file", target.File,
			"deadline", o.deadline,
			"completed", count)
	}
	return outcomes, partial
}

func deadlineOutcome(name string, d time.Duration) scanner.RunOutcome {
	return scanner.RunOutcome{
		Scanner:  name,
		Status:   types.OutcomeTimedOut,
		Reason:   config.MsgDeadlineExceeded,
		Err:      types.ErrOrchestrationDeadlineExceeded,
		Duration: d,
	}
}

// fallback builds a degraded result from the built-in pattern checks
func (o *Orchestrator) fallback(req types.ReviewRequest) *types.ReviewResult {
	start := time.Now()
	findings := o.aggregator.Dedup(Fallback(req.File, []byte(req.Content)))

	o.logger.Warn("No applicable scanners, using built-in checks",
		"file", req.File,
		"error", types.ErrNoScannersAvailable)

	return &types.ReviewResult{
		File:     req.File,
		Status:   types.ReviewStatusDegraded,
		Findings: findings,
		Summary:  types.ComputeSummary(findings),
		Scanners: []types.ScannerReport{{
			Name:       FallbackTool,
			Outcome:    types.OutcomeCompleted,
			Findings:   len(findings),
			DurationMs: time.Since(start).Milliseconds(),
			Reason:     config.MsgNoScannersAvailable,
		}},
		ScannersAvailable: false,
		Degraded:          true,
		Confidence:        types.ConfidenceLow,
		CompletedAt:       o.aggregator.now(),
	}
}

// Compliance evaluates a result against a severity gate. Nil when no gate is
// set. An inconclusive review never passes.
func Compliance(r *types.ReviewResult, failOn types.Severity) *types.MethodologyCompliance {
	if !failOn.Valid() {
		return nil
	}
	blocking := 0
	for _, f := range r.Findings {
		if f.Severity.MeetsThreshold(failOn) {
			blocking++
		}
	}
	return &types.MethodologyCompliance{
		FailOn:   failOn,
		Passed:   blocking == 0 && r.Status != types.ReviewStatusInconclusive,
		Blocking: blocking,
	}
}

func rawFindings(outcomes []scanner.RunOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == types.OutcomeCompleted {
			n += len(o.Findings)
		}
	}
	return n
}
