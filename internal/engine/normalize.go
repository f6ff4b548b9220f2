package engine

import (
	"strings"
	"time"
)

// Normalize converts a backend response into a Verdict. Only entries whose own
// action is BLOCKED become violations; allowed or flagged entries are dropped.
func Normalize(ref PolicyRef, dir Direction, raw *RawVerdict, now time.Time) Verdict {
	v := Verdict{
		Policy:    ref,
		Direction: dir,
		Action:    parseAction(raw.Action),
		Usage:     raw.Usage,
		Timestamp: now,
	}
	v.Status = StatusPassed
	if v.Action == ActionIntervened {
		v.Status = StatusBlocked
	}

	for _, e := range raw.Assessments {
		if !strings.EqualFold(e.Action, EntryBlocked) {
			continue
		}
		v.Violations = append(v.Violations, toViolation(e))
	}

	if len(raw.Outputs) > 0 {
		out := raw.Outputs[0]
		v.FilteredOutput = &out
	}
	return v
}

// ErrorVerdict is the verdict recorded when the evaluator call failed.
func ErrorVerdict(ref PolicyRef, dir Direction, msg string, now time.Time) Verdict {
	return Verdict{
		Policy:    ref,
		Direction: dir,
		Action:    ActionNone,
		Status:    StatusError,
		Error:     msg,
		Timestamp: now,
	}
}

func parseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GUARDRAIL_INTERVENED", "INTERVENED":
		return ActionIntervened
	default:
		return ActionNone
	}
}

func toViolation(e RawEntry) Violation {
	switch e.Policy {
	case PolicyTopics:
		return Violation{Kind: ViolationTopic, Name: orUnknown(e.Name), Confidence: confidenceOrUnknown(e.Confidence)}
	case PolicyFilters:
		return Violation{Kind: ViolationContentFilter, Type: orUnknown(e.Type), Confidence: confidenceOrUnknown(e.Confidence)}
	case PolicyCustomWords:
		return Violation{Kind: ViolationWord, Match: orUnknown(e.Match)}
	case PolicyManagedWord:
		return Violation{Kind: ViolationManagedWord, Match: orUnknown(e.Match), Type: orUnknown(e.Type)}
	case PolicyPIIEntities:
		return Violation{Kind: ViolationSensitiveInfo, Sensitive: SensitivePII, Type: orUnknown(e.Type), Match: orRedacted(e.Match)}
	case PolicyRegexes:
		return Violation{Kind: ViolationSensitiveInfo, Sensitive: SensitiveRegex, Name: orUnknown(e.Name), Match: orRedacted(e.Match)}
	default:
		return Violation{
			Kind:       ViolationUnrecognized,
			Policy:     e.Policy,
			Name:       e.Name,
			Type:       e.Type,
			Match:      e.Match,
			Confidence: e.Confidence,
		}
	}
}

func confidenceOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func orRedacted(s string) string {
	if s == "" {
		return "Redacted"
	}
	return s
}
