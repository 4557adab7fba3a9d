// Package scrub redacts sensitive values and classifies security events.
//
// Scrubbing is a pure transformation: given the same event and the same
// configured pattern set, the output is identical, and scrubbing an already
// scrubbed event changes nothing. That keeps the stage safe to re-run and
// testable with golden inputs.
package scrub

import (
	"regexp"
	"strings"

	"github.com/crimson-sun/pulse/internal/model"
)

// RedactionMarker replaces every matched sensitive value. Presence of the
// field survives; its value does not.
const RedactionMarker = "[REDACTED]"

// defaultPatterns are the built-in sensitive-value shapes, applied in order.
// Order matters: broader patterns run after narrower ones so a card number
// is marked as a card number, not four phone numbers.
var defaultPatterns = []string{
	`\b(?:\d{4}[-\s]?){3}\d{4}\b`,                          // payment card
	`\b\d{3}-\d{2}-\d{4}\b`,                                // SSN shape
	`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,   // email
	`\b\d{3}-\d{3}-\d{4}\b`,                                // phone
	`(?i)\b(?:bearer|token|secret|password)[=:\s]+\S+`,     // credential assignment
}

// threatSignature pairs a lowercase marker with its category label.
type threatSignature struct {
	marker   string
	category string
}

// threatSignatures are checked against the lowercased message and string
// attributes. First match wins.
var threatSignatures = []threatSignature{
	{"authentication failed", "auth_failure"},
	{"login failed", "auth_failure"},
	{"unauthorized access", "unauthorized_access"},
	{"sql injection", "sql_injection"},
	{"xss attempt", "xss_attempt"},
	{"csrf token missing", "csrf_missing"},
	{"rate limit exceeded", "rate_limit_exceeded"},
}

// Scrubber applies an ordered, compiled pattern list. Configured once at
// startup; safe for concurrent use (compiled regexps are read-only).
type Scrubber struct {
	patterns []*regexp.Regexp
}

// New compiles the built-in patterns plus any extras, preserving order.
// An invalid extra pattern is a configuration error and fails startup.
func New(extraPatterns ...string) (*Scrubber, error) {
	all := make([]string, 0, len(defaultPatterns)+len(extraPatterns))
	all = append(all, defaultPatterns...)
	all = append(all, extraPatterns...)

	s := &Scrubber{patterns: make([]*regexp.Regexp, 0, len(all))}
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// Scrub returns a copy of the event with sensitive values redacted and,
// when a threat signature matches, security classification attributes set.
func (s *Scrubber) Scrub(e model.Event) model.Event {
	out := e.Clone()
	out.Message = s.scrubString(out.Message)

	for k, v := range out.Attributes {
		switch val := v.(type) {
		case string:
			out.Attributes[k] = s.scrubString(val)
		case map[string]any:
			for ik, iv := range val {
				if str, ok := iv.(string); ok {
					val[ik] = s.scrubString(str)
				}
			}
		}
	}

	s.classify(&out)
	return out
}

func (s *Scrubber) scrubString(in string) string {
	for _, re := range s.patterns {
		in = re.ReplaceAllString(in, RedactionMarker)
	}
	return in
}

// classify flags security-relevant events. The scan covers the message and
// top-level string attributes; the first matching signature sets the
// category.
func (s *Scrubber) classify(e *model.Event) {
	haystack := strings.ToLower(e.Message)
	for _, v := range e.Attributes {
		if str, ok := v.(string); ok {
			haystack += "\n" + strings.ToLower(str)
		}
	}

	for _, sig := range threatSignatures {
		if strings.Contains(haystack, sig.marker) {
			if e.Attributes == nil {
				e.Attributes = make(map[string]any, 2)
			}
			e.Attributes["security_event"] = true
			e.Attributes["threat_category"] = sig.category
			return
		}
	}
}
