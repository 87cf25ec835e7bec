package scanner

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// SARIF v2.1.0, only the fields findings need

type sarifLog struct {
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	Help             sarifMessage       `json:"help"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
	Properties       sarifProperties    `json:"properties"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifProperties struct {
	Tags             []string `json:"tags"`
	SecuritySeverity string   `json:"security-severity"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

func decodeSARIF(output []byte) ([]types.Finding, error) {
	var log sarifLog
	if err := json.Unmarshal(output, &log); err != nil {
		return nil, err
	}

	var findings []types.Finding
	for _, run := range log.Runs {
		rules := make(map[string]sarifRule, len(run.Tool.Driver.Rules))
		for _, r := range run.Tool.Driver.Rules {
			rules[r.ID] = r
		}

		for _, res := range run.Results {
			rule := rules[res.RuleID]
			f := types.Finding{
				Rule:     res.RuleID,
				Severity: sarifSeverity(res, rule),
				Message:  strings.TrimSpace(res.Message.Text),
			}
			if f.Message == "" {
				f.Message = rule.ShortDescription.Text
			}
			if len(res.Locations) > 0 {
				loc := res.Locations[0].PhysicalLocation
				f.File = loc.ArtifactLocation.URI
				f.Line = loc.Region.StartLine
			}
			if rule.Help.Text != "" && rule.Help.Text != f.Message {
				f.Suggestion = rule.Help.Text
			}
			f.Category = Classify(strings.Join(append([]string{res.RuleID, rule.Name}, rule.Properties.Tags...), " "), f.Message)
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// sarifSeverity prefers the numeric security-severity (CVSS-like) when a rule
// carries one and falls back to the result or rule level.
func sarifSeverity(res sarifResult, rule sarifRule) types.Severity {
	if score, err := strconv.ParseFloat(rule.Properties.SecuritySeverity, 64); err == nil {
		switch {
		case score >= 9.0:
			return types.SeverityCritical
		case score >= 7.0:
			return types.SeverityHigh
		case score >= 4.0:
			return types.SeverityMedium
		case score > 0:
			return types.SeverityLow
		default:
			return types.SeverityInfo
		}
	}

	level := res.Level
	if level == "" {
		level = rule.DefaultConfig.Level
	}
	if level == "" {
		// SARIF default level
		level = "warning"
	}
	return types.ParseSeverity(level)
}
