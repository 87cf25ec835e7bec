package scanner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// Argument template placeholders
const (
	PlaceholderFile = "{file}"
	PlaceholderDir  = "{dir}"
	PlaceholderName = "{name}"
)

// Builtin returns the default scanner catalog
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Name:         "semgrep",
			Command:      "semgrep",
			Args:         []string{"scan", "--config", "auto", "--sarif", "--quiet", "--metrics", "off", PlaceholderFile},
			VersionArgs:  []string{"--version"},
			Format:       FormatSARIF,
			Input:        InputPath,
			Timeout:      60 * time.Second,
			ProbeTimeout: 10 * time.Second,
			SuccessCodes: []int{0, 1},
		},
		{
			Name:         "bandit",
			Command:      "bandit",
			Args:         []string{"-f", "json", "-q", PlaceholderFile},
			VersionArgs:  []string{"--version"},
			Format:       FormatBanditJSON,
			Input:        InputPath,
			Extensions:   []string{".py", ".pyw"},
			SuccessCodes: []int{0, 1},
		},
		{
			Name:         "gitleaks",
			Command:      "gitleaks",
			Args:         []string{"stdin", "--report-format", "json", "--report-path", "-", "--no-banner", "--exit-code", "0"},
			VersionArgs:  []string{"version"},
			Format:       FormatGitleaksJSON,
			Input:        InputStdin,
			Category:     types.CategorySecrets,
			SuccessCodes: []int{0},
		},
		{
			Name:         "shellcheck",
			Command:      "shellcheck",
			Args:         []string{"-f", "gcc", PlaceholderFile},
			VersionArgs:  []string{"--version"},
			Format:       FormatLine,
			Input:        InputPath,
			Extensions:   []string{".sh", ".bash", ".ksh"},
			Category:     types.CategoryQuality,
			SuccessCodes: []int{0, 1},
		},
		{
			Name:         "hadolint",
			Command:      "hadolint",
			Args:         []string{"--format", "sarif", "--no-fail", PlaceholderFile},
			VersionArgs:  []string{"--version"},
			Format:       FormatSARIF,
			Input:        InputPath,
			Extensions:   []string{"Dockerfile", "Containerfile", ".dockerfile"},
			Category:     types.CategoryConfiguration,
			SuccessCodes: []int{0, 1},
		},
	}
}

type catalogFile struct {
	Scanners []catalogEntry `yaml:"scanners"`
}

type catalogEntry struct {
	Descriptor   `yaml:",inline"`
	Timeout      string `yaml:"timeout"`
	ProbeTimeout string `yaml:"probe_timeout"`
}

// LoadCatalogFile parses a YAML scanner catalog
func LoadCatalogFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog content
func ParseCatalog(data []byte) ([]Descriptor, error) {
	var file catalogFile
	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	out := make([]Descriptor, 0, len(file.Scanners))
	seen := make(map[string]bool)
	for i, e := range file.Scanners {
		d := e.Descriptor
		if d.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: name is required", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("catalog entry %d: duplicate scanner %q", i, d.Name)
		}
		seen[d.Name] = true

		if e.Timeout != "" {
			if d.Timeout, err = time.ParseDuration(e.Timeout); err != nil {
				return nil, fmt.Errorf("scanner %s: invalid timeout: %w", d.Name, err)
			}
		}
		if e.ProbeTimeout != "" {
			if d.ProbeTimeout, err = time.ParseDuration(e.ProbeTimeout); err != nil {
				return nil, fmt.Errorf("scanner %s: invalid probe_timeout: %w", d.Name, err)
			}
		}
		if d.Format != "" {
			if _, ok := DecoderFor(d.Format); !ok {
				return nil, fmt.Errorf("scanner %s: unknown format %q", d.Name, d.Format)
			}
		}
		if d.MinVersion != "" && CanonicalMinVersion(d.MinVersion) == "" {
			return nil, fmt.Errorf("scanner %s: invalid min_version %q", d.Name, d.MinVersion)
		}
		if d.Input != "" && d.Input != InputPath && d.Input != InputStdin {
			return nil, fmt.Errorf("scanner %s: unknown input mode %q", d.Name, d.Input)
		}
		out = append(out, d)
	}
	return out, nil
}

// MergeCatalog overlays entries onto base by name. Empty fields in an overlay
// entry keep the base value; new names are appended. New entries must name a
// command and a format.
func MergeCatalog(base, overlay []Descriptor) ([]Descriptor, error) {
	merged := make([]Descriptor, 0, len(base)+len(overlay))
	index := make(map[string]int, len(base))
	for _, d := range base {
		index[d.Name] = len(merged)
		merged = append(merged, d.Clone())
	}

	for _, o := range overlay {
		i, ok := index[o.Name]
		if !ok {
			if o.Command == "" || o.Format == "" {
				return nil, fmt.Errorf("scanner %s: command and format are required", o.Name)
			}
			if o.Input == "" {
				o.Input = InputPath
			}
			index[o.Name] = len(merged)
			merged = append(merged, o.Clone())
			continue
		}

		d := &merged[i]
		if o.Command != "" {
			d.Command = o.Command
		}
		if o.Args != nil {
			d.Args = append([]string(nil), o.Args...)
		}
		if o.VersionArgs != nil {
			d.VersionArgs = append([]string(nil), o.VersionArgs...)
		}
		if o.Format != "" {
			d.Format = o.Format
		}
		if o.Input != "" {
			d.Input = o.Input
		}
		if o.Extensions != nil {
			d.Extensions = append([]string(nil), o.Extensions...)
		}
		if o.Category != "" {
			d.Category = o.Category
		}
		if o.Timeout > 0 {
			d.Timeout = o.Timeout
		}
		if o.ProbeTimeout > 0 {
			d.ProbeTimeout = o.ProbeTimeout
		}
		if o.SuccessCodes != nil {
			d.SuccessCodes = append([]int(nil), o.SuccessCodes...)
		}
		if o.MinVersion != "" {
			d.MinVersion = o.MinVersion
		}
	}
	return merged, nil
}

// LoadCatalog returns the built-in catalog merged with the optional file
func LoadCatalog(path string) ([]Descriptor, error) {
	if path == "" {
		return Builtin(), nil
	}
	overlay, err := LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return MergeCatalog(Builtin(), overlay)
}
