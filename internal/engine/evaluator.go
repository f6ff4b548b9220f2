package engine

import (
	"context"
)

// Evaluator is the interface every guardrail backend must implement.
// Implementations must respect context deadlines and return quickly.
type Evaluator interface {
	// Name returns the backend's identifier (e.g., "bedrock").
	Name() string

	// Evaluate screens req.Content against the guardrail named by req.Policy.
	// Must respect ctx deadline. A returned error becomes an ERROR verdict for
	// this PolicyRef only.
	Evaluate(ctx context.Context, req *EvaluateRequest) (*RawVerdict, error)
}

// EvaluateRequest is one backend call: one content string, one PolicyRef.
type EvaluateRequest struct {
	Policy    PolicyRef
	Direction Direction
	Content   string
	Prompt    string // set only for OUTPUT screening with prompt pairing
}

// Sub-policy keys used in RawEntry.Policy. Backends that speak another dialect
// should map onto these; anything else normalizes to ViolationUnrecognized.
const (
	PolicyTopics      = "topicPolicy.topics"
	PolicyFilters     = "contentPolicy.filters"
	PolicyCustomWords = "wordPolicy.customWords"
	PolicyManagedWord = "wordPolicy.managedWordLists"
	PolicyPIIEntities = "sensitiveInformationPolicy.piiEntities"
	PolicyRegexes     = "sensitiveInformationPolicy.regexes"
)

// EntryBlocked is the per-entry action that makes an entry a violation.
const EntryBlocked = "BLOCKED"

// RawVerdict is a backend response before normalization.
type RawVerdict struct {
	Action      string // "GUARDRAIL_INTERVENED", "NONE", ...
	Assessments []RawEntry
	Usage       Usage
	Outputs     []string
}

// RawEntry is one sub-policy finding as the backend reported it.
type RawEntry struct {
	Policy     string
	Name       string
	Type       string
	Match      string
	Confidence string
	Action     string
}
