package report

import (
	"fmt"
	"strings"

	"github.com/triage-ai/guardbench/internal/engine"
)

const traceListLimit = 5

// FormatTrace renders one verdict for humans. Word and sensitive-information
// lists are capped at five entries; the counts are not.
func FormatTrace(v engine.Verdict) string {
	if v.Status == engine.StatusError {
		msg := v.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return "ERROR: " + msg
	}

	var topics, content, words, sensitive, other []engine.Violation
	for _, vi := range v.Violations {
		switch vi.Kind {
		case engine.ViolationTopic:
			topics = append(topics, vi)
		case engine.ViolationContentFilter:
			content = append(content, vi)
		case engine.ViolationWord, engine.ViolationManagedWord:
			words = append(words, vi)
		case engine.ViolationSensitiveInfo:
			sensitive = append(sensitive, vi)
		default:
			other = append(other, vi)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Guardrail: %s (v%s)\n", v.Policy.ID, v.Policy.Version)
	fmt.Fprintf(&b, "Content Type: %s\n", v.Direction)
	fmt.Fprintf(&b, "Action: %s\n", v.Action)
	fmt.Fprintf(&b, "Status: %s", v.Status)

	if len(topics) > 0 {
		fmt.Fprintf(&b, "\n\nTopic Policy Violations: %d", len(topics))
		for _, t := range topics {
			fmt.Fprintf(&b, "\n  - %s (%s)", t.Name, t.Confidence)
		}
	}
	if len(content) > 0 {
		fmt.Fprintf(&b, "\n\nContent Policy Violations: %d", len(content))
		for _, c := range content {
			fmt.Fprintf(&b, "\n  - %s (%s)", c.Type, c.Confidence)
		}
	}
	if len(words) > 0 {
		fmt.Fprintf(&b, "\n\nWord Policy Violations: %d", len(words))
		for _, w := range capped(words) {
			fmt.Fprintf(&b, "\n  - %s", w.Match)
		}
	}
	if len(sensitive) > 0 {
		fmt.Fprintf(&b, "\n\nSensitive Information: %d", len(sensitive))
		for _, s := range capped(sensitive) {
			kind := s.Type
			if s.Sensitive == engine.SensitiveRegex {
				kind = s.Name
			}
			match := s.Match
			if match == "" {
				match = "Redacted"
			}
			fmt.Fprintf(&b, "\n  - %s: %s", kind, match)
		}
	}
	if len(other) > 0 {
		fmt.Fprintf(&b, "\n\nUnrecognized Policy Entries: %d", len(other))
		for _, o := range other {
			fmt.Fprintf(&b, "\n  - %s", o.Policy)
		}
	}
	return b.String()
}

func capped(vs []engine.Violation) []engine.Violation {
	if len(vs) > traceListLimit {
		return vs[:traceListLimit]
	}
	return vs
}
