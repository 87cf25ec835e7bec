// Package scanner discovers external analyzers, runs them against a single
// file and normalizes their output into findings.
package scanner

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// Format identifies the output format a scanner emits. Each format has
// exactly one decoder.
type Format string

const (
	FormatSARIF        Format = "sarif"
	FormatBanditJSON   Format = "bandit-json"
	FormatGitleaksJSON Format = "gitleaks-json"
	FormatLine         Format = "line"
)

// InputMode selects how content reaches the scanner
type InputMode string

const (
	// InputPath writes the content to a temp file named after the target
	InputPath InputMode = "path"
	// InputStdin pipes the content on stdin
	InputStdin InputMode = "stdin"
)

// Descriptor describes one external analyzer. The status fields are filled in
// by Registry.Refresh; descriptors handed out by the registry are copies.
type Descriptor struct {
	Name        string    `yaml:"name" json:"name"`
	Command     string    `yaml:"command" json:"command"`
	Args        []string  `yaml:"args" json:"args"`
	VersionArgs []string  `yaml:"version_args" json:"versionArgs,omitempty"`
	Format      Format    `yaml:"format" json:"format"`
	Input       InputMode `yaml:"input" json:"input"`
	// Extensions lists file extensions (".py") or exact base names
	// ("Dockerfile"). Empty means the scanner applies to every file.
	Extensions   []string       `yaml:"extensions" json:"extensions,omitempty"`
	Category     types.Category `yaml:"category" json:"category,omitempty"`
	Timeout      time.Duration  `yaml:"-" json:"timeout"`
	ProbeTimeout time.Duration  `yaml:"-" json:"probeTimeout"`
	SuccessCodes []int          `yaml:"success_codes" json:"successCodes"`
	// MinVersion rejects older installs at probe time
	MinVersion string `yaml:"min_version" json:"minVersion,omitempty"`

	Available    bool   `yaml:"-" json:"available"`
	ResolvedPath string `yaml:"-" json:"resolvedPath,omitempty"`
	Version      string `yaml:"-" json:"version,omitempty"`
	ProbeError   string `yaml:"-" json:"probeError,omitempty"`
}

// AppliesTo reports whether the scanner handles the given file
func (d Descriptor) AppliesTo(file string) bool {
	if len(d.Extensions) == 0 {
		return true
	}
	base := filepath.Base(file)
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range d.Extensions {
		if strings.HasPrefix(e, ".") {
			if ext != "" && strings.EqualFold(e, ext) {
				return true
			}
			continue
		}
		if strings.EqualFold(e, base) || strings.HasPrefix(strings.ToLower(base), strings.ToLower(e)+".") {
			return true
		}
	}
	return false
}

// IsSuccess reports whether an exit code counts as a normal run
func (d Descriptor) IsSuccess(code int) bool {
	if len(d.SuccessCodes) == 0 {
		return code == 0
	}
	return slices.Contains(d.SuccessCodes, code)
}

// Clone returns a deep copy
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Args = slices.Clone(d.Args)
	c.VersionArgs = slices.Clone(d.VersionArgs)
	c.Extensions = slices.Clone(d.Extensions)
	c.SuccessCodes = slices.Clone(d.SuccessCodes)
	return c
}

// Target is the file under review
type Target struct {
	// File is the caller's path; findings are reported against it
	File    string
	Content []byte
}

// RunOutcome is the terminal state of one scanner invocation. Findings is
// empty unless Status is completed.
type RunOutcome struct {
	Scanner  string
	Status   types.OutcomeStatus
	Findings []types.Finding
	Reason   string
	Err      error
	Duration time.Duration
}

// Report summarizes the outcome for a review result
func (o RunOutcome) Report() types.ScannerReport {
	return types.ScannerReport{
		Name:       o.Scanner,
		Outcome:    o.Status,
		Findings:   len(o.Findings),
		DurationMs: o.Duration.Milliseconds(),
		Reason:     o.Reason,
	}
}

// Names returns descriptor names in order
func Names(ds []Descriptor) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}
