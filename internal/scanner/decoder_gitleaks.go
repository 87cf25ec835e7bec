package scanner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

type gitleaksLeak struct {
	Description string   `json:"Description"`
	StartLine   int      `json:"StartLine"`
	File        string   `json:"File"`
	RuleID      string   `json:"RuleID"`
	Tags        []string `json:"Tags"`
}

func decodeGitleaks(output []byte) ([]types.Finding, error) {
	var leaks []gitleaksLeak
	if err := json.Unmarshal(output, &leaks); err != nil {
		return nil, err
	}

	findings := make([]types.Finding, 0, len(leaks))
	for _, l := range leaks {
		sev := types.SeverityHigh
		if strings.Contains(strings.ToLower(l.RuleID), "private-key") {
			sev = types.SeverityCritical
		}
		// the matched secret itself is never copied into a finding
		msg := l.Description
		if msg == "" {
			msg = fmt.Sprintf("Potential secret detected by rule %s", l.RuleID)
		}
		findings = append(findings, types.Finding{
			File:       l.File,
			Line:       l.StartLine,
			Severity:   sev,
			Rule:       l.RuleID,
			Category:   types.CategorySecrets,
			Message:    msg,
			Suggestion: "Remove the secret from source and rotate it",
		})
	}
	return findings, nil
}
