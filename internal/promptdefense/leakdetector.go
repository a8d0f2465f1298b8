package promptdefense

import (
	"fmt"
	"regexp"
)

// Severity classifies how sensitive a detected leak pattern is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Match is one detected secret-like substring.
type Match struct {
	PatternName string
	MatchedText string
	Severity    Severity
}

type secretPattern struct {
	name     string
	severity Severity
	build    func() *regexp.Regexp
}

// secretPatternDefs describes each built-in pattern as a factory rather
// than a shared compiled value, so that two LeakDetector instances
// never share the same *regexp.Regexp (and therefore never share any
// iteration state across scan calls).
var secretPatternDefs = []secretPattern{
	{"aws_access_key_id", SeverityHigh, func() *regexp.Regexp { return regexp.MustCompile(`AKIA[0-9A-Z]{16}`) }},
	{"generic_api_key", SeverityMedium, func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`)
	}},
	{"jwt", SeverityMedium, func() *regexp.Regexp {
		return regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
	}},
	{"pem_block", SeverityHigh, func() *regexp.Regexp {
		return regexp.MustCompile(`-----BEGIN [A-Z ]*(PRIVATE KEY|CERTIFICATE)-----`)
	}},
	{"password_assignment", SeverityLow, func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`)
	}},
	{"slack_token", SeverityHigh, func() *regexp.Regexp { return regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`) }},
	{"base64_blob", SeverityLow, func() *regexp.Regexp { return regexp.MustCompile(`[A-Za-z0-9+/]{60,}={0,2}`) }},
}

// LeakDetector scans text for secret-like substrings. Each instance
// compiles its own regexes; none are shared at package scope, so
// concurrent detectors never interfere with one another's match state.
type LeakDetector struct {
	patterns []struct {
		name     string
		severity Severity
		re       *regexp.Regexp
	}
}

// New returns a LeakDetector with freshly compiled patterns.
func New() *LeakDetector {
	d := &LeakDetector{}
	for _, def := range secretPatternDefs {
		d.patterns = append(d.patterns, struct {
			name     string
			severity Severity
			re       *regexp.Regexp
		}{def.name, def.severity, def.build()})
	}
	return d
}

// Scan returns every match of the built-in secret patterns in text.
func (d *LeakDetector) Scan(text string) []Match {
	var matches []Match
	for _, p := range d.patterns {
		for _, m := range p.re.FindAllString(text, -1) {
			matches = append(matches, Match{PatternName: p.name, MatchedText: m, Severity: p.severity})
		}
	}
	return matches
}

// Redact replaces every match of the built-in secret patterns with a
// `[REDACTED:{patternName}]` placeholder.
func (d *LeakDetector) Redact(text string) string {
	out := text
	for _, p := range d.patterns {
		out = p.re.ReplaceAllString(out, fmt.Sprintf("[REDACTED:%s]", p.name))
	}
	return out
}
