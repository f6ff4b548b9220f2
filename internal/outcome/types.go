package outcome

import (
	"strings"
	"time"

	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/generation"
	"github.com/triage-ai/guardbench/internal/storage"
)

// ExpectedAction is what the test author expects the guardrails to do.
type ExpectedAction int

const (
	ExpectNone ExpectedAction = iota
	ExpectBlock
)

// ParseExpectedAction maps "block" (any case) to ExpectBlock. Anything
// else, including the empty string, is ExpectNone.
func ParseExpectedAction(s string) ExpectedAction {
	if strings.EqualFold(strings.TrimSpace(s), "block") {
		return ExpectBlock
	}
	return ExpectNone
}

func (a ExpectedAction) String() string {
	if a == ExpectBlock {
		return "BLOCK"
	}
	return "NONE"
}

func (a ExpectedAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText accepts the same spellings as ParseExpectedAction.
func (a *ExpectedAction) UnmarshalText(b []byte) error {
	*a = ParseExpectedAction(string(b))
	return nil
}

// Status is the verdict on a whole test.
type Status int

const (
	StatusPassed Status = iota + 1
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "PASSED"
	case StatusError:
		return "ERROR"
	default:
		return "UNSPECIFIED"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PassReason says why a PASSED test passed. It is PassReasonNone on ERROR.
type PassReason int

const (
	PassReasonNone PassReason = iota
	NormalPass
	BlockedAsExpected
)

func (r PassReason) String() string {
	switch r {
	case NormalPass:
		return "NORMAL_PASS"
	case BlockedAsExpected:
		return "BLOCKED_AS_EXPECTED"
	default:
		return ""
	}
}

func (r PassReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// TestCase is one prompt with its expectation.
type TestCase struct {
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Prompt   string         `json:"prompt"`
	Expected ExpectedAction `json:"expected_guardrail_action"`
}

// TestResult is the immutable record of one test run against one model.
type TestResult struct {
	ID              string              `json:"test_id"`
	RunID           string              `json:"run_id,omitempty"`
	Name            string              `json:"test_name"`
	Category        string              `json:"category"`
	ModelID         string              `json:"model_id"`
	Provider        string              `json:"provider"`
	Prompt          string              `json:"prompt"`
	Response        string              `json:"response"`
	Status          Status              `json:"status"`
	PassReason      PassReason          `json:"pass_reason,omitempty"`
	ExpectedAction  ExpectedAction      `json:"expected_action"`
	WasBlocked      bool                `json:"was_blocked"`
	InputScreening  engine.Screening    `json:"input_guardrails"`
	OutputScreening engine.Screening    `json:"output_guardrails"`
	Generation      *generation.Outcome `json:"generation,omitempty"`
	InputTokens     int                 `json:"input_tokens"`
	OutputTokens    int                 `json:"output_tokens"`
	TotalTokens     int                 `json:"total_tokens"`
	LatencyMs       float64             `json:"latency_ms"`
	Error           string              `json:"error,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// InputBlocked reports whether the prompt itself was blocked.
func (r *TestResult) InputBlocked() bool { return r.InputScreening.Blocked() }

// OutputBlocked reports whether the model response was blocked.
func (r *TestResult) OutputBlocked() bool { return r.OutputScreening.Blocked() }

// Record converts the result to its persisted form.
func (r *TestResult) Record() *storage.Record {
	return &storage.Record{
		RunID:           r.RunID,
		TestID:          r.ID,
		TestName:        r.Name,
		Category:        r.Category,
		ModelID:         r.ModelID,
		Provider:        r.Provider,
		Timestamp:       r.Timestamp,
		Status:          r.Status.String(),
		PassReason:      r.PassReason.String(),
		ExpectedAction:  r.ExpectedAction.String(),
		WasBlocked:      r.WasBlocked,
		InputBlocked:    r.InputBlocked(),
		OutputBlocked:   r.OutputBlocked(),
		Prompt:          r.Prompt,
		Response:        r.Response,
		InputTokens:     r.InputTokens,
		OutputTokens:    r.OutputTokens,
		TotalTokens:     r.TotalTokens,
		LatencyMs:       r.LatencyMs,
		Error:           r.Error,
		InputScreening:  r.InputScreening,
		OutputScreening: r.OutputScreening,
	}
}
