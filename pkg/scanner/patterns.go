package scanner

import (
	"regexp"

	"github.com/vigilsec/vigil/pkg/types"
)

const (
	CategoryPromptInjection = "prompt-injection"
	CategoryPromptLeak      = "prompt-leak"
	CategoryCodeInjection   = "code-injection"
	CategoryXSSAttempt      = "xss-attempt"
	CategoryDangerousURI    = "dangerous-uri"
)

type signatureRule struct {
	name       string
	category   string
	severity   types.Severity
	confidence float64
	pattern    *regexp.Regexp
}

// signatureRules is the ordered local rule set checked before any external
// lookup. Order matters: more specific instruction-override phrasing comes
// before the broader catch-alls.
var signatureRules = []signatureRule{
	{
		name:       "instruction_override",
		category:   CategoryPromptInjection,
		severity:   types.SeverityHigh,
		confidence: 0.9,
		pattern:    regexp.MustCompile(`(?i)ignore\s+(?:all\s+|any\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|directives)`),
	},
	{
		name:       "role_reassignment",
		category:   CategoryPromptInjection,
		severity:   types.SeverityHigh,
		confidence: 0.85,
		pattern:    regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|the|in)\b`),
	},
	{
		name:       "instruction_disregard",
		category:   CategoryPromptInjection,
		severity:   types.SeverityHigh,
		confidence: 0.85,
		pattern:    regexp.MustCompile(`(?i)\bdisregard\s+(?:all\s+|any\s+|your\s+)?(?:previous|prior|above|earlier|the)\b`),
	},
	{
		name:       "system_prompt_probe",
		category:   CategoryPromptLeak,
		severity:   types.SeverityHigh,
		confidence: 0.85,
		pattern:    regexp.MustCompile(`(?i)(?:what\s+is|reveal|show|repeat|print|output)\s+(?:me\s+)?(?:your\s+|the\s+)?system\s+prompt`),
	},
	{
		name:       "fenced_code_execution",
		category:   CategoryCodeInjection,
		severity:   types.SeverityHigh,
		confidence: 0.8,
		pattern:    regexp.MustCompile("(?is)```.*?\\b(?:exec|eval|require|import)\\b.*?```"),
	},
	{
		name:       "script_tag",
		category:   CategoryXSSAttempt,
		severity:   types.SeverityHigh,
		confidence: 0.9,
		pattern:    regexp.MustCompile(`(?i)<\s*script[^>]*>`),
	},
	{
		name:       "event_handler_attribute",
		category:   CategoryXSSAttempt,
		severity:   types.SeverityMedium,
		confidence: 0.7,
		pattern:    regexp.MustCompile(`(?i)\bon\w+\s*=`),
	},
	{
		name:       "dangerous_uri_scheme",
		category:   CategoryDangerousURI,
		severity:   types.SeverityHigh,
		confidence: 0.8,
		pattern:    regexp.MustCompile(`(?i)(?:javascript:|data:text/html|vbscript:)`),
	},
}

func matchLocalPatterns(text string) []types.ThreatMatch {
	var matches []types.ThreatMatch
	for _, rule := range signatureRules {
		if rule.pattern.MatchString(text) {
			matches = append(matches, types.ThreatMatch{
				Pattern:    rule.name,
				Category:   rule.category,
				Severity:   rule.severity,
				Confidence: rule.confidence,
				Source:     types.MatchSourceLocalPattern,
			})
		}
	}
	return matches
}
