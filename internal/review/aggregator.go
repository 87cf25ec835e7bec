// Package review turns a file into a ReviewResult: it selects scanners, fans
// out runs, and folds their outcomes into one deduplicated result.
package review

import (
	"cmp"
	"slices"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// Aggregator merges run outcomes into a single result
type Aggregator struct {
	// window is the line distance within which findings of the same file and
	// category from different tools are treated as one issue
	window int
	now    func() time.Time
}

// NewAggregator creates an aggregator with the given dedup window
func NewAggregator(window int) *Aggregator {
	if window < 0 {
		window = 0
	}
	return &Aggregator{window: window, now: time.Now}
}

// Aggregate folds outcomes into a result. Only completed outcomes contribute
// findings. With no completed outcome the result is inconclusive.
func (a *Aggregator) Aggregate(file string, outcomes []scanner.RunOutcome) *types.ReviewResult {
	reports := make([]types.ScannerReport, 0, len(outcomes))
	var findings []types.Finding
	completed := 0
	for _, o := range outcomes {
		reports = append(reports, o.Report())
		if o.Status != types.OutcomeCompleted {
			continue
		}
		completed++
		findings = append(findings, o.Findings...)
	}
	slices.SortFunc(reports, func(x, y types.ScannerReport) int {
		return cmp.Compare(x.Name, y.Name)
	})

	result := &types.ReviewResult{
		File:        file,
		Findings:    []types.Finding{},
		Scanners:    reports,
		Confidence:  types.ConfidenceNormal,
		CompletedAt: a.now(),
	}

	if completed == 0 {
		result.Status = types.ReviewStatusInconclusive
		result.Confidence = types.ConfidenceLow
		return result
	}

	result.ScannersAvailable = true
	result.Findings = a.Dedup(findings)
	result.Summary = types.ComputeSummary(result.Findings)
	if len(result.Findings) > 0 {
		result.Status = types.ReviewStatusFindings
	} else {
		result.Status = types.ReviewStatusClean
	}
	return result
}

type cluster struct {
	anchor  int
	rep     types.Finding
	members []types.Finding
}

func (c *cluster) hasTool(tool string) bool {
	for _, m := range c.members {
		if m.Tool == tool {
			return true
		}
	}
	return false
}

func (c *cluster) hasExact(f types.Finding) bool {
	for _, m := range c.members {
		if m.Tool == f.Tool && m.Rule == f.Rule && m.Line == f.Line {
			return true
		}
	}
	return false
}

// Dedup merges findings that describe the same issue. Two findings merge
// when they share file and category, their lines are within the window of
// the cluster's first line, and they come from different tools. Exact
// repeats (same tool, rule and line) always collapse. The merged finding
// carries the most severe member's fields and every contributing tool.
func (a *Aggregator) Dedup(findings []types.Finding) []types.Finding {
	sorted := slices.Clone(findings)
	slices.SortStableFunc(sorted, compareFindings)

	type groupKey struct {
		file     string
		category types.Category
	}
	groups := make(map[groupKey][]*cluster)
	var order []*cluster

	for _, f := range sorted {
		key := groupKey{f.File, f.Category}
		var target *cluster
		for _, c := range groups[key] {
			if abs(f.Line-c.anchor) > a.window {
				continue
			}
			if c.hasExact(f) || !c.hasTool(f.Tool) {
				target = c
				break
			}
		}
		if target == nil {
			c := &cluster{anchor: f.Line, rep: f, members: []types.Finding{f}}
			groups[key] = append(groups[key], c)
			order = append(order, c)
			continue
		}
		if target.hasExact(f) {
			continue
		}
		target.members = append(target.members, f)
		if f.Severity.Rank() > target.rep.Severity.Rank() {
			target.rep = f
		}
	}

	out := make([]types.Finding, 0, len(order))
	for _, c := range order {
		merged := c.rep
		merged.Tools = toolsOf(c.members)
		out = append(out, merged)
	}
	slices.SortStableFunc(out, compareFindings)
	return out
}

// compareFindings orders by file, line, descending severity, then by tool,
// rule and message so that output is deterministic
func compareFindings(x, y types.Finding) int {
	return cmp.Or(
		cmp.Compare(x.File, y.File),
		cmp.Compare(x.Line, y.Line),
		cmp.Compare(y.Severity.Rank(), x.Severity.Rank()),
		cmp.Compare(x.Category, y.Category),
		cmp.Compare(x.Tool, y.Tool),
		cmp.Compare(x.Rule, y.Rule),
		cmp.Compare(x.Message, y.Message),
	)
}

func toolsOf(members []types.Finding) []string {
	var tools []string
	for _, m := range members {
		names := m.Tools
		if len(names) == 0 && m.Tool != "" {
			names = []string{m.Tool}
		}
		for _, t := range names {
			if !slices.Contains(tools, t) {
				tools = append(tools, t)
			}
		}
	}
	slices.Sort(tools)
	return tools
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
