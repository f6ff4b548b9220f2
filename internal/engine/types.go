package engine

import (
	"strings"
	"time"
)

// PolicyRef identifies one configured guardrail: an evaluator id at a version.
type PolicyRef struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// String returns the "id:version" form used in configuration.
func (p PolicyRef) String() string {
	return p.ID + ":" + p.Version
}

// Direction is which side of the exchange is being screened.
type Direction int

const (
	DirectionInput Direction = iota + 1
	DirectionOutput
)

// String returns the uppercase direction name.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "INPUT"
	case DirectionOutput:
		return "OUTPUT"
	default:
		return "UNSPECIFIED"
	}
}

// Mode selects which directions the gateway screens at all.
type Mode int

const (
	ModeBoth Mode = iota
	ModeInputOnly
	ModeOutputOnly
)

// ParseMode maps "both", "input_only" and "output_only" to a Mode.
// The second return value is false for unrecognised input, in which case
// ModeBoth is returned.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "both", "":
		return ModeBoth, true
	case "input_only":
		return ModeInputOnly, true
	case "output_only":
		return ModeOutputOnly, true
	default:
		return ModeBoth, false
	}
}

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeInputOnly:
		return "input_only"
	case ModeOutputOnly:
		return "output_only"
	default:
		return "both"
	}
}

// Screens reports whether the mode allows screening in direction d.
func (m Mode) Screens(d Direction) bool {
	switch m {
	case ModeInputOnly:
		return d == DirectionInput
	case ModeOutputOnly:
		return d == DirectionOutput
	default:
		return d == DirectionInput || d == DirectionOutput
	}
}

// Action is the top-level action an evaluator took on the content.
type Action int

const (
	ActionNone Action = iota
	ActionIntervened
)

// String returns the backend spelling of the action.
func (a Action) String() string {
	if a == ActionIntervened {
		return "GUARDRAIL_INTERVENED"
	}
	return "NONE"
}

// Status is the outcome of one evaluator call, or of a whole screening.
type Status int

const (
	StatusPassed Status = iota + 1
	StatusBlocked
	StatusError
)

// String returns the uppercase status name.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "PASSED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusError:
		return "ERROR"
	default:
		return "UNSPECIFIED"
	}
}

// MarshalText lets statuses serialize by name in JSON logs and API responses.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText serializes the direction by name.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// MarshalText serializes the action by its backend spelling.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// MarshalText serializes the mode by its configuration spelling.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ViolationKind discriminates the Violation variants.
type ViolationKind int

const (
	ViolationUnrecognized ViolationKind = iota
	ViolationTopic
	ViolationContentFilter
	ViolationWord
	ViolationManagedWord
	ViolationSensitiveInfo
)

// String returns the report label for the kind.
func (k ViolationKind) String() string {
	switch k {
	case ViolationTopic:
		return "TOPIC_POLICY"
	case ViolationContentFilter:
		return "CONTENT_POLICY"
	case ViolationWord:
		return "WORD_POLICY"
	case ViolationManagedWord:
		return "MANAGED_WORD_POLICY"
	case ViolationSensitiveInfo:
		return "SENSITIVE_INFORMATION_POLICY"
	default:
		return "UNRECOGNIZED"
	}
}

// MarshalText serializes the kind by its report label.
func (k ViolationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SensitiveKind refines ViolationSensitiveInfo.
type SensitiveKind int

const (
	SensitiveNone SensitiveKind = iota
	SensitivePII
	SensitiveRegex
)

// String returns "PII", "REGEX" or "".
func (s SensitiveKind) String() string {
	switch s {
	case SensitivePII:
		return "PII"
	case SensitiveRegex:
		return "REGEX"
	default:
		return ""
	}
}

// MarshalText serializes the sensitive kind by name.
func (s SensitiveKind) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Violation is one blocked sub-policy entry. Kind selects which fields are
// meaningful:
//
//	ViolationTopic          Name, Confidence
//	ViolationContentFilter  Type, Confidence
//	ViolationWord           Match
//	ViolationManagedWord    Match, Type
//	ViolationSensitiveInfo  Sensitive, Type (PII) or Name (REGEX), Match
//	ViolationUnrecognized   Policy plus whatever the backend sent
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	Sensitive  SensitiveKind `json:"sensitive,omitempty"`
	Policy     string        `json:"policy,omitempty"`
	Name       string        `json:"name,omitempty"`
	Type       string        `json:"type,omitempty"`
	Match      string        `json:"match,omitempty"`
	Confidence string        `json:"confidence,omitempty"`
}

// Label returns the string a report groups this violation under.
func (v Violation) Label() string {
	switch v.Kind {
	case ViolationTopic:
		return "TOPIC:" + orUnknown(v.Name)
	case ViolationContentFilter:
		return "CONTENT:" + orUnknown(v.Type)
	case ViolationWord:
		return "WORD:" + orUnknown(v.Match)
	case ViolationManagedWord:
		return "MANAGED_WORD:" + orUnknown(v.Type)
	case ViolationSensitiveInfo:
		if v.Sensitive == SensitiveRegex {
			return "REGEX:" + orUnknown(v.Name)
		}
		return "PII:" + orUnknown(v.Type)
	default:
		return "UNRECOGNIZED:" + orUnknown(v.Policy)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Usage holds the policy units a backend billed for one call.
type Usage struct {
	TopicPolicyUnits                int32 `json:"topic_policy_units,omitempty"`
	ContentPolicyUnits              int32 `json:"content_policy_units,omitempty"`
	WordPolicyUnits                 int32 `json:"word_policy_units,omitempty"`
	SensitiveInformationPolicyUnits int32 `json:"sensitive_information_policy_units,omitempty"`
	ContextualGroundingPolicyUnits  int32 `json:"contextual_grounding_policy_units,omitempty"`
}

// Verdict is the normalized result of one evaluator call against one content
// string. Status is StatusBlocked exactly when Action is ActionIntervened, and
// StatusError exactly when the call itself failed.
type Verdict struct {
	Policy         PolicyRef   `json:"policy"`
	Direction      Direction   `json:"direction"`
	Action         Action      `json:"action"`
	Status         Status      `json:"status"`
	Violations     []Violation `json:"violations,omitempty"`
	FilteredOutput *string     `json:"filtered_output,omitempty"`
	Error          string      `json:"error,omitempty"`
	Usage          Usage       `json:"usage"`
	LatencyMs      float64     `json:"latency_ms"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Screening is the aggregate of every configured evaluator run against one
// content string. A disabled screening has no verdicts and passes.
type Screening struct {
	Enabled  bool      `json:"enabled"`
	Verdicts []Verdict `json:"verdicts"`
	Overall  Status    `json:"overall_status"`
	Reason   string    `json:"reason,omitempty"`
}

// Disabled returns the screening reported when no evaluator ran.
func Disabled() Screening {
	return Screening{Enabled: false, Verdicts: []Verdict{}, Overall: StatusPassed}
}

// Blocked reports whether the screening ran and blocked the content.
func (s Screening) Blocked() bool {
	return s.Enabled && s.Overall == StatusBlocked
}

// BlockedCount returns the number of blocking verdicts.
func (s Screening) BlockedCount() int { return s.count(StatusBlocked) }

// PassedCount returns the number of passing verdicts.
func (s Screening) PassedCount() int { return s.count(StatusPassed) }

// ErrorCount returns the number of verdicts whose evaluator call failed.
func (s Screening) ErrorCount() int { return s.count(StatusError) }

func (s Screening) count(st Status) int {
	n := 0
	for _, v := range s.Verdicts {
		if v.Status == st {
			n++
		}
	}
	return n
}
