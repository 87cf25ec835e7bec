// Package types provides shared types used across the codereview-mcp codebase
package types

import (
	"strings"
	"time"
)

// Severity is the normalized severity bucket of a finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities lists the buckets from most to least severe
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Rank returns a numeric rank for comparisons (higher = more severe)
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known buckets
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity maps the severity vocabularies used by different scanners
// onto the normalized buckets. Unknown values map to medium.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "fatal", "blocker":
		return SeverityCritical
	case "high", "error", "err", "major":
		return SeverityHigh
	case "medium", "moderate", "warning", "warn":
		return SeverityMedium
	case "low", "minor", "note", "style":
		return SeverityLow
	case "info", "informational", "hint", "none":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

// MeetsThreshold returns true if s is at or above threshold
func (s Severity) MeetsThreshold(threshold Severity) bool {
	if !threshold.Valid() {
		return false
	}
	return s.Rank() >= threshold.Rank()
}

// Category is the rule family a finding belongs to. Findings from different
// tools are compared by category, not by rule id.
type Category string

const (
	CategorySecrets       Category = "secrets"
	CategoryInjection     Category = "injection"
	CategoryCrypto        Category = "crypto"
	CategoryAuth          Category = "auth"
	CategoryConfiguration Category = "configuration"
	CategoryDependency    Category = "dependency"
	CategoryUnsafeCode    Category = "unsafe-code"
	CategoryQuality       Category = "quality"
	CategoryOther         Category = "other"
)

// Finding is a single normalized issue reported by one scanner
type Finding struct {
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Severity   Severity `json:"severity"`
	Rule       string   `json:"rule"`
	Tool       string   `json:"tool"`
	Tools      []string `json:"tools,omitempty"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// SeveritySummary holds finding counts per severity bucket
type SeveritySummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Count returns the count for one bucket
func (s SeveritySummary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	default:
		return 0
	}
}

// ComputeSummary calculates the summary from findings
func ComputeSummary(findings []Finding) SeveritySummary {
	var s SeveritySummary
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		case SeverityInfo:
			s.Info++
		default:
			continue
		}
		s.Total++
	}
	return s
}

// ReviewStatus distinguishes clean code from findings and from scans that
// could not be trusted
type ReviewStatus string

const (
	ReviewStatusClean        ReviewStatus = "clean"
	ReviewStatusFindings     ReviewStatus = "findings"
	ReviewStatusDegraded     ReviewStatus = "degraded"
	ReviewStatusInconclusive ReviewStatus = "inconclusive"
)

// Confidence labels how much a result can be trusted
type Confidence string

const (
	ConfidenceNormal Confidence = "normal"
	ConfidenceLow    Confidence = "low"
)

// OutcomeStatus is the terminal state of one scanner invocation
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ScannerReport summarizes one scanner's contribution to a review
type ScannerReport struct {
	Name       string        `json:"name"`
	Outcome    OutcomeStatus `json:"outcome"`
	Findings   int           `json:"findings"`
	DurationMs int64         `json:"durationMs"`
	Reason     string        `json:"reason,omitempty"`
}

// MethodologyCompliance reports whether a review passes the caller's
// severity gate
type MethodologyCompliance struct {
	FailOn   Severity `json:"failOn"`
	Passed   bool     `json:"passed"`
	Blocking int      `json:"blocking"`
}

// ReviewRequest is one file submitted for review
type ReviewRequest struct {
	File     string   `json:"file" validate:"required"`
	Content  string   `json:"content"`
	Scanners []string `json:"scanners,omitempty" validate:"omitempty,dive,required"`
	FailOn   Severity `json:"failOn,omitempty" validate:"omitempty,oneof=critical high medium low info"`
}

// ReviewResult is the terminal artifact of one orchestration. Immutable once
// returned.
type ReviewResult struct {
	File                  string                 `json:"file"`
	Status                ReviewStatus           `json:"status"`
	Findings              []Finding              `json:"findings"`
	Summary               SeveritySummary        `json:"summary"`
	Scanners              []ScannerReport        `json:"scanners"`
	ScannersAvailable     bool                   `json:"scannersAvailable"`
	Degraded              bool                   `json:"degraded"`
	Confidence            Confidence             `json:"confidence"`
	Partial               bool                   `json:"partial"`
	Cached                bool                   `json:"cached,omitempty"`
	MethodologyCompliance *MethodologyCompliance `json:"methodologyCompliance,omitempty"`
	DurationMs            int64                  `json:"durationMs"`
	CompletedAt           time.Time              `json:"completedAt"`
}
