package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/outcome"
	"go.uber.org/zap"
)

// directionMap maps direction strings from the HTTP API to engine directions.
var directionMap = map[string]engine.Direction{
	"":       engine.DirectionInput,
	"input":  engine.DirectionInput,
	"output": engine.DirectionOutput,
}

// handleScreen implements POST /v1/screen.
func (d *Dependencies) handleScreen(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if d.Gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Guardrails not configured"})
		return
	}

	var req ScreenRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "content is required"})
		return
	}
	dir, ok := directionMap[strings.ToLower(req.Direction)]
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "direction must be input or output"})
		return
	}

	var s engine.Screening
	if dir == engine.DirectionOutput {
		s = d.Gateway.ScreenOutput(r.Context(), req.Prompt, req.Content)
	} else {
		s = d.Gateway.Screen(r.Context(), req.Content, dir)
	}

	if s.Blocked() {
		fields := []zap.Field{
			zap.String("direction", dir.String()),
			zap.Int("blocked", s.BlockedCount()),
		}
		if p := principalFromContext(r.Context()); p != nil {
			fields = append(fields, zap.String("key_id", p.KeyID))
		}
		d.Logger.Info("content blocked", fields...)
	}

	writeJSON(w, http.StatusOK, ScreenResponse{
		Blocked:   s.Blocked(),
		Direction: dir.String(),
		Screening: s,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// handleEvaluate implements POST /v1/evaluate: one test case against one
// model, decided and persisted like any suite test.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if d.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Evaluation not configured"})
		return
	}

	var req EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "prompt is required"})
		return
	}

	model := req.Model
	if model == "" {
		model = d.DefaultModel
	}
	gen, ok := d.Generators[model]
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown model: " + model})
		return
	}

	tc := outcome.TestCase{
		Name:     orUnknown(req.Name),
		Category: orUnknown(req.Category),
		Prompt:   req.Prompt,
		Expected: outcome.ParseExpectedAction(req.ExpectedAction),
	}
	result := d.Engine.Run(r.Context(), tc, gen)

	writeJSON(w, http.StatusOK, result)
}

// handleConfig implements GET /v1/config.
func (d *Dependencies) handleConfig(w http.ResponseWriter, _ *http.Request) {
	resp := ConfigResp{
		Policies: []engine.PolicyRef{},
		Models:   d.modelIDs(),
		Default:  d.DefaultModel,
	}
	if d.Gateway != nil {
		cfg := d.Gateway.Config()
		resp.Enabled = d.Gateway.Enabled()
		resp.Mode = cfg.Mode
		resp.Pairing = cfg.Pairing.String()
		resp.Policies = append(resp.Policies, cfg.Policies...)
		resp.Timeout = cfg.Timeout.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) modelIDs() []string {
	ids := make([]string, 0, len(d.Generators))
	for id := range d.Generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
