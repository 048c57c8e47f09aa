// Package screener scans intent content for manipulation patterns before
// any policy logic runs. It is a binary gate: any flagged result blocks,
// regardless of the advisory confidence score. False negatives at this
// boundary are far costlier than false positives.
package screener

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Category classifies a detected manipulation pattern. Categories are
// checked in a fixed order; the first match wins.
type Category string

const (
	CategoryNone          Category = "none"
	CategoryHarmful       Category = "harmful_intent"
	CategoryOverride      Category = "system_override"
	CategoryActionInject  Category = "action_injection"
	CategoryEscalation    Category = "privilege_escalation"
)

// Result is the outcome of a content scan. Confidence is advisory only:
// any Flagged result blocks the pipeline.
type Result struct {
	Flagged     bool     `json:"flagged"`
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// harmfulPatterns match requests for violence, weapons, drug synthesis,
// cyberattacks and fraud schemes — content with no legitimate place in a
// descriptive intent payload.
var harmfulPatterns = compile(
	`how\s+to\s+(make|build|create|synthesize|assemble|construct)\s+(a\s+)?(bomb|explosive|grenade|ied)`,
	`(bomb|explosive|ied)\s+(making|recipe|tutorial|instructions?|guide|formula)`,
	`(pipe\s*bomb|nail\s*bomb|letter\s*bomb|car\s*bomb)`,
	`how\s+to\s+(make|synthesize|cook|produce|manufacture)\s+(meth(amphetamine)?|heroin|cocaine|fentanyl)`,
	`how\s+to\s+(hack|crack|breach|exploit)\s+(someone('s)?|a\s+)?(bank|government|hospital|database|server)`,
	`(ransomware|malware|virus|trojan|spyware)\s+(creation|writing|coding|development)`,
	`how\s+to\s+(kill|murder|poison|assassinate)\s+(someone|a\s+person)`,
	`(best\s+way|easiest\s+way|how)\s+to\s+(get\s+away\s+with\s+(murder|killing)|dispose\s+of\s+(a\s+)?body)`,
	`how\s+to\s+(launder|wash)\s+(dirty\s+)?money`,
	`how\s+to\s+(run|operate|set\s+up)\s+(a\s+)?(ponzi|pyramid)\s+scheme`,
	`how\s+to\s+(traffic|smuggle)\s+(humans?|people|migrants?)`,
)

// overridePatterns match jailbreak and system-prompt override phrasing.
var overridePatterns = compile(
	`ignore\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|rules?|constraints?|guidelines?|prompts?)`,
	`forget\s+(your|all)\s+(rules?|instructions?|constraints?|training|guidelines?)`,
	`you\s+are\s+now\s+(a\s+)?(different|unrestricted|free)`,
	`(disregard|override|bypass|circumvent)\s+(all\s+)?(rules?|policy|policies|constraints?|instructions?)`,
	`act\s+as\s+if\s+you\s+have\s+no\s+(rules?|restrictions?|constraints?)`,
	`(jailbreak|dan\s+mode|developer\s+mode|unrestricted\s+mode)`,
	`pretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(evil|unrestricted|unethical|free)`,
	`role\s*play\s+as\s+(an?\s+)?(corrupt|unethical|evil)`,
)

// actionInjectPatterns match directive verbs smuggled into a content field
// that should be descriptive, not directive.
var actionInjectPatterns = compile(
	`bribe\s+(the\s+)?(judge|court|official|officer)`,
	`destroy\s+(the\s+)?(evidence|document|file|record)`,
	`threaten\s+(the\s+)?(witness|client|victim)`,
	`fabricate\s+(the\s+)?(evidence|document|report|testimony)`,
	`(upload|send|leak|share)\s+(this|the)\s+(file|data|evidence)\s+(to|externally)`,
	`coach\s+(the\s+)?(client|witness)\s+to\s+(lie|deny|say)`,
	`pay\s+(off|the)\s+(judge|official|officer)`,
)

// escalationPatterns match claims of admin or override authority.
var escalationPatterns = compile(
	`you\s+(must|should|have\s+to)\s+(now\s+)?(execute|run|perform|do)\s+`,
	`(immediately|urgently)\s+(send|upload|delete|destroy|bribe)`,
	`(as\s+your\s+)?(new\s+)?(master|owner|controller|administrator)`,
	`sudo|root\s+access|admin\s+mode|privilege\s+escalat`,
)

type check struct {
	category    Category
	confidence  float64
	patterns    []*regexp.Regexp
	explanation string
}

// checks defines the fixed evaluation order. First match wins.
var checks = []check{
	{CategoryHarmful, 0.95, harmfulPatterns,
		"content requests harmful, violent or illegal instruction"},
	{CategoryOverride, 0.9, overridePatterns,
		"content attempts to override the agent's rules or system constraints"},
	{CategoryActionInject, 0.9, actionInjectPatterns,
		"content embeds a hidden directive that was never part of the proposed intent"},
	{CategoryEscalation, 0.6, escalationPatterns,
		"content claims administrative or override authority"},
}

// Scan examines free-text content for manipulation patterns. Pure and
// synchronous; safe for concurrent use.
func Scan(content string) Result {
	if content == "" {
		return Result{Category: CategoryNone}
	}
	lowered := strings.ToLower(content)

	for _, c := range checks {
		for _, re := range c.patterns {
			if loc := re.FindStringIndex(lowered); loc != nil {
				return Result{
					Flagged:     true,
					Category:    c.category,
					Confidence:  c.confidence,
					Excerpt:     excerpt(lowered, loc[0], loc[1]),
					Explanation: c.explanation,
				}
			}
		}
	}
	return Result{Category: CategoryNone}
}

// excerpt returns the matched substring with surrounding context, the way
// a reviewer would want to see it in an audit entry. The offsets come
// from the case-folded text, so text must be that same string; folding
// can change byte lengths and original-string offsets would drift.
func excerpt(text string, start, end int) string {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	hi := end + 30
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
