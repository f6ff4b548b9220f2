package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/triage-ai/guardbench/internal/engine"
)

// ErrBufferFull is returned by asynchronous writers that dropped a record.
var ErrBufferFull = errors.New("result buffer full")

// ResultWriter persists test results. Implementations must be safe for
// concurrent use. A Write error is reported to the caller, which logs it;
// it never changes the result.
type ResultWriter interface {
	Write(ctx context.Context, r *Record) error
	Close() error
}

// Record is one test result as persisted. Prompt and Response hold the full
// text; writers decide how much of it to keep.
type Record struct {
	RunID           string           `json:"run_id,omitempty"`
	TestID          string           `json:"test_id"`
	TestName        string           `json:"test_name"`
	Category        string           `json:"category"`
	ModelID         string           `json:"model_id"`
	Provider        string           `json:"provider"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          string           `json:"status"`
	PassReason      string           `json:"pass_reason,omitempty"`
	ExpectedAction  string           `json:"expected_action"`
	WasBlocked      bool             `json:"was_blocked"`
	InputBlocked    bool             `json:"input_blocked"`
	OutputBlocked   bool             `json:"output_blocked"`
	Prompt          string           `json:"prompt"`
	Response        string           `json:"response"`
	InputTokens     int              `json:"input_tokens"`
	OutputTokens    int              `json:"output_tokens"`
	TotalTokens     int              `json:"total_tokens"`
	LatencyMs       float64          `json:"latency_ms"`
	Error           string           `json:"error,omitempty"`
	InputScreening  engine.Screening `json:"input_guardrails"`
	OutputScreening engine.Screening `json:"output_guardrails"`
}

// PreviewLength is the max runes of prompt and response kept in logs.
const PreviewLength = 200

// TruncatePayload returns the first N characters (runes) of a payload for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	runes := []rune(payload)
	if len(runes) <= maxLen {
		return payload
	}
	return string(runes[:maxLen])
}

// Preview truncates s to PreviewLength runes and marks the cut with "...".
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLength {
		return s
	}
	return TruncatePayload(s, PreviewLength) + "..."
}

// PayloadHash returns the hex SHA-256 of the full payload.
func PayloadHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// previewed returns a copy of r with prompt and response cut to previews.
func previewed(r *Record) *Record {
	c := *r
	c.Prompt = Preview(r.Prompt)
	c.Response = Preview(r.Response)
	return &c
}
