package review

import (
	"bytes"
	"regexp"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// FallbackTool is the tool name stamped on built-in pattern findings
const FallbackTool = "builtin"

// patternCheck is one built-in heuristic. These exist only so that a review
// with no scanners still catches the most obvious problems; results built
// from them are always marked low confidence.
type patternCheck struct {
	rule     string
	severity types.Severity
	category types.Category
	message  string
	pattern  *regexp.Regexp
}

var fallbackChecks = []patternCheck{
	{
		rule:     "builtin.private-key",
		severity: types.SeverityCritical,
		category: types.CategorySecrets,
		message:  "Private key material embedded in source",
		pattern:  regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE KEY-----`),
	},
	{
		rule:     "builtin.aws-access-key",
		severity: types.SeverityCritical,
		category: types.CategorySecrets,
		message:  "AWS access key ID embedded in source",
		pattern:  regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
	},
	{
		rule:     "builtin.cloud-token",
		severity: types.SeverityHigh,
		category: types.CategorySecrets,
		message:  "Cloud or service API token embedded in source",
		pattern:  regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}|xox[bporas]-[A-Za-z0-9-]{10,}|sk-ant-[A-Za-z0-9_-]{20,}|sk-[A-Za-z0-9]{20,}|AIza[0-9A-Za-z_-]{35}`),
	},
	{
		rule:     "builtin.hardcoded-secret",
		severity: types.SeverityHigh,
		category: types.CategorySecrets,
		message:  "Hardcoded credential assigned to a secret-like name",
		pattern:  regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd|credential)["']?\s*[:=]\s*["'][^"'\s]{8,}["']`),
	},
	{
		rule:     "builtin.dangerous-eval",
		severity: types.SeverityHigh,
		category: types.CategoryInjection,
		message:  "Dynamic code or shell execution",
		pattern:  regexp.MustCompile(`\b(eval|exec)\s*\(|\bos\.system\s*\(|shell\s*=\s*True|\bnew\s+Function\s*\(`),
	},
	{
		rule:     "builtin.tls-verify-disabled",
		severity: types.SeverityHigh,
		category: types.CategoryCrypto,
		message:  "TLS certificate verification disabled",
		pattern:  regexp.MustCompile(`verify\s*=\s*False|InsecureSkipVerify\s*:\s*true|rejectUnauthorized\s*:\s*false|NODE_TLS_REJECT_UNAUTHORIZED\s*=\s*["']?0|\bcurl\b.*\s(-k|--insecure)\b`),
	},
}

// Fallback runs the built-in pattern checks line by line. Lines of any
// length are checked. Matched text is never copied into findings.
func Fallback(file string, content []byte) []types.Finding {
	var findings []types.Finding

	line := 0
	for rest := content; len(rest) > 0; {
		var text []byte
		text, rest, _ = bytes.Cut(rest, []byte{'\n'})
		line++
		for _, c := range fallbackChecks {
			if !c.pattern.Match(text) {
				continue
			}
			findings = append(findings, types.Finding{
				File:     file,
				Line:     line,
				Severity: c.severity,
				Rule:     c.rule,
				Tool:     FallbackTool,
				Tools:    []string{FallbackTool},
				Category: c.category,
				Message:  c.message,
			})
		}
	}
	return findings
}
