package api

import (
	"github.com/triage-ai/guardbench/internal/chread"
	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/store"
)

// --- POST /v1/screen ---

// ScreenRequest is the JSON body for POST /v1/screen. Prompt is only read for
// output screening when the gateway pairs prompt and response.
type ScreenRequest struct {
	Content   string `json:"content"`
	Direction string `json:"direction"`
	Prompt    string `json:"prompt,omitempty"`
}

// ScreenResponse wraps a screening with its headline flags.
type ScreenResponse struct {
	Blocked   bool             `json:"blocked"`
	Direction string           `json:"direction"`
	Screening engine.Screening `json:"screening"`
	LatencyMs float64          `json:"latency_ms"`
}

// --- POST /v1/evaluate ---

// EvaluateRequest is the JSON body for POST /v1/evaluate.
type EvaluateRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Prompt         string `json:"prompt"`
	ExpectedAction string `json:"expected_guardrail_action"`
	Model          string `json:"model,omitempty"`
}

// --- GET /v1/config ---

// ConfigResp describes the screening policy and the models available.
type ConfigResp struct {
	Enabled  bool               `json:"enabled"`
	Mode     engine.Mode        `json:"mode"`
	Pairing  string             `json:"output_pairing"`
	Policies []engine.PolicyRef `json:"policies"`
	Timeout  string             `json:"timeout"`
	Models   []string           `json:"models"`
	Default  string             `json:"default_model"`
}

// --- Runs ---

// RunListResp lists recent runs, newest first.
type RunListResp struct {
	Runs []*store.RunSummary `json:"runs"`
}

// --- Results ---

// ResultListResp is one page of persisted results.
type ResultListResp struct {
	Results  []ResultResp `json:"results"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// ResultResp is a persisted result with its flags decoded.
type ResultResp struct {
	chread.ResultRow
	WasBlocked    bool `json:"was_blocked"`
	InputBlocked  bool `json:"input_blocked"`
	OutputBlocked bool `json:"output_blocked"`
}

// ResultRespFrom converts a ClickHouse row to the API response.
func ResultRespFrom(row chread.ResultRow) ResultResp {
	return ResultResp{
		ResultRow:     row,
		WasBlocked:    row.WasBlocked == 1,
		InputBlocked:  row.InputBlocked == 1,
		OutputBlocked: row.OutputBlocked == 1,
	}
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
