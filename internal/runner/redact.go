package runner

import (
	"regexp"
)

// Placeholder substituted for secret-shaped spans in process output.
const Placeholder = "[REDACTED]"

// Redaction rules are applied in order to every captured line before it is
// stored. This is a last line of defense: credentials are only ever passed
// through environment variables, never argument vectors, so under normal
// operation nothing here should match.
type redactRule struct {
	pattern *regexp.Regexp
	replace string
}

var redactRules = []redactRule{
	// JSON fields holding secret material, e.g. "token": "abc".
	{
		pattern: regexp.MustCompile(`(?i)"(token|accessToken|authToken|key|apiKey|password|secret)"\s*:\s*"[^"]*"`),
		replace: `"$1": "` + Placeholder + `"`,
	},
	// Environment-style assignments, e.g. EXPO_TOKEN=abc123XYZ.
	{
		pattern: regexp.MustCompile(`\b([A-Z][A-Z0-9_]*(?:TOKEN|SECRET|KEY|PASSWORD|PASS)[A-Z0-9_]*)=\S+`),
		replace: `$1=` + Placeholder,
	},
	// Bearer authorization headers.
	{
		pattern: regexp.MustCompile(`(?i)\b(Bearer)\s+[A-Za-z0-9._~+/=-]+`),
		replace: `$1 ` + Placeholder,
	},
}

// Redact masks secret-shaped substrings in arbitrary text.
func Redact(text string) string {
	for _, rule := range redactRules {
		text = rule.pattern.ReplaceAllString(text, rule.replace)
	}
	return text
}
