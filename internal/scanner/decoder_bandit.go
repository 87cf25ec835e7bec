package scanner

import (
	"encoding/json"
	"strings"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

type banditReport struct {
	Results []banditResult `json:"results"`
}

type banditResult struct {
	Filename   string `json:"filename"`
	LineNumber int    `json:"line_number"`
	Severity   string `json:"issue_severity"`
	Confidence string `json:"issue_confidence"`
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	IssueText  string `json:"issue_text"`
	MoreInfo   string `json:"more_info"`
}

func decodeBandit(output []byte) ([]types.Finding, error) {
	var report banditReport
	if err := json.Unmarshal(output, &report); err != nil {
		return nil, err
	}

	findings := make([]types.Finding, 0, len(report.Results))
	for _, r := range report.Results {
		sev := types.ParseSeverity(r.Severity)
		// low-confidence highs are usually false positives
		if sev == types.SeverityHigh && strings.EqualFold(r.Confidence, "LOW") {
			sev = types.SeverityMedium
		}

		f := types.Finding{
			File:     r.Filename,
			Line:     r.LineNumber,
			Severity: sev,
			Rule:     r.TestID,
			Message:  r.IssueText,
			Category: banditCategory(r.TestID, r.TestName, r.IssueText),
		}
		if r.MoreInfo != "" {
			f.Suggestion = "See " + r.MoreInfo
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// banditCategory maps bandit's test id families onto categories
func banditCategory(testID, testName, text string) types.Category {
	switch {
	case testID == "B105" || testID == "B106" || testID == "B107":
		return types.CategorySecrets
	case testID == "B102" || testID == "B307" || testID == "B608" || testID == "B609" ||
		strings.HasPrefix(testID, "B60") || strings.HasPrefix(testID, "B61") ||
		testID == "B301" || testID == "B302" || testID == "B506":
		return types.CategoryInjection
	case testID == "B303" || testID == "B304" || testID == "B305" || testID == "B311" ||
		testID == "B324" || strings.HasPrefix(testID, "B50"):
		return types.CategoryCrypto
	case testID == "B101":
		return types.CategoryQuality
	case testID == "B103" || testID == "B104" || testID == "B108" || testID == "B201":
		return types.CategoryConfiguration
	}
	return Classify(testID+" "+testName, text)
}
