package scanner

import (
	"strings"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

type categoryRule struct {
	category types.Category
	keywords []string
}

// Checked in order; the first match wins so that e.g. a hardcoded password
// is a secret rather than an auth issue.
var categoryRules = []categoryRule{
	{types.CategorySecrets, []string{"secret", "password", "passwd", "api-key", "api_key", "apikey", "token", "credential", "private-key", "private_key", "hardcoded", "hard-coded"}},
	{types.CategoryInjection, []string{"inject", "sqli", "sql", "xss", "command", "shell", "eval", "exec", "deserializ", "pickle", "yaml.load", "subprocess", "ssrf", "traversal", "template"}},
	{types.CategoryCrypto, []string{"crypto", "md5", "sha1", "cipher", "insecure-hash", "weak-hash", "random", "tls", "ssl", "certificate", "verify"}},
	{types.CategoryAuth, []string{"auth", "jwt", "csrf", "cookie", "session", "permission-check"}},
	{types.CategoryConfiguration, []string{"docker", "config", "chmod", "permission", "root", "debug", "bind", "cors", "header"}},
	{types.CategoryDependency, []string{"dependency", "dependencies", "outdated", "pin", "vulnerable-package", "cve-"}},
	{types.CategoryUnsafeCode, []string{"unsafe", "memory", "buffer", "overflow", "race", "null-deref"}},
}

// Classify assigns a category from a rule identifier (plus tags) and message.
// Identifiers are checked before messages since they are more specific.
func Classify(rule, message string) types.Category {
	if c := matchCategory(strings.ToLower(rule)); c != "" {
		return c
	}
	if c := matchCategory(strings.ToLower(message)); c != "" {
		return c
	}
	return types.CategoryOther
}

func matchCategory(text string) types.Category {
	if text == "" {
		return ""
	}
	for _, r := range categoryRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return ""
}
