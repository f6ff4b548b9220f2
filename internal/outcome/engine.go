// Package outcome runs a single test case through input screening, generation
// and output screening, and decides whether the test passed.
package outcome

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/generation"
	"github.com/triage-ai/guardbench/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	// BlockedResponse stands in for the response when the prompt was blocked.
	BlockedResponse = "[BLOCKED BY INPUT GUARDRAILS]"
	blockedError    = "input blocked by guardrails"
)

// testNamespace roots the deterministic test IDs.
var testNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/triage-ai/guardbench/tests"))

// Screener is the guardrail side of a test. *engine.Gateway implements it.
type Screener interface {
	Screen(ctx context.Context, content string, dir engine.Direction) engine.Screening
	ScreenOutput(ctx context.Context, prompt, response string) engine.Screening
}

// Generator is the model under test. generation.Client implements it.
type Generator interface {
	Invoke(ctx context.Context, prompt string) generation.Outcome
	Model() generation.ModelInfo
}

// Engine runs tests. It is safe for concurrent use.
type Engine struct {
	screener   Screener
	writer     storage.ResultWriter
	logger     *zap.Logger
	runID      string
	now        func() time.Time
	tests      metric.Int64Counter
	screenings metric.Int64Counter
}

// NewEngine creates an engine. writer may be nil, in which case results are
// only returned.
func NewEngine(s Screener, writer storage.ResultWriter, logger *zap.Logger) *Engine {
	meter := otel.Meter("github.com/triage-ai/guardbench/internal/outcome")
	tests, err := meter.Int64Counter("guardbench.tests",
		metric.WithDescription("Tests run, by status and pass reason"))
	if err != nil {
		tests = noop.Int64Counter{}
	}
	screenings, err := meter.Int64Counter("guardbench.screenings",
		metric.WithDescription("Enabled guardrail screenings, by direction and overall status"))
	if err != nil {
		screenings = noop.Int64Counter{}
	}

	return &Engine{
		screener:   s,
		writer:     writer,
		logger:     logger,
		now:        time.Now,
		tests:      tests,
		screenings: screenings,
	}
}

// WithRunID returns a copy of the engine that stamps results with runID.
func (e *Engine) WithRunID(runID string) *Engine {
	c := *e
	c.runID = runID
	return &c
}

// TestID returns the deterministic ID of tc run against modelID.
func TestID(tc TestCase, modelID string) string {
	key := strings.Join([]string{tc.Name, tc.Category, modelID, tc.Prompt}, "|")
	return uuid.NewSHA1(testNamespace, []byte(key)).String()
}

// Run screens the prompt, generates unless the prompt was blocked, screens
// the response, decides the outcome and writes the result.
func (e *Engine) Run(ctx context.Context, tc TestCase, gen Generator) TestResult {
	model := gen.Model()

	in := e.screener.Screen(ctx, tc.Prompt, engine.DirectionInput)
	e.countScreening(ctx, engine.DirectionInput, in)
	inputBlocked := in.Blocked()

	var out engine.Screening
	var g generation.Outcome
	response := ""

	if inputBlocked {
		g = generation.Outcome{
			Success: false,
			Text:    BlockedResponse,
			Error:   blockedError,
		}
		response = BlockedResponse
		out = engine.Disabled()
	} else {
		g = gen.Invoke(ctx, tc.Prompt)
		if g.Success {
			response = g.Text
			out = e.screener.ScreenOutput(ctx, tc.Prompt, response)
			e.countScreening(ctx, engine.DirectionOutput, out)
		} else {
			out = engine.Disabled()
		}
	}

	anyBlocked := inputBlocked || out.Blocked()
	status, reason := Decide(tc.Expected, anyBlocked, g.Success)

	r := TestResult{
		ID:              TestID(tc, model.ModelID),
		RunID:           e.runID,
		Name:            tc.Name,
		Category:        tc.Category,
		ModelID:         model.ModelID,
		Provider:        model.Provider,
		Prompt:          tc.Prompt,
		Response:        response,
		Status:          status,
		PassReason:      reason,
		ExpectedAction:  tc.Expected,
		WasBlocked:      anyBlocked,
		InputScreening:  in,
		OutputScreening: out,
		Generation:      &g,
		InputTokens:     g.InputTokens,
		OutputTokens:    g.OutputTokens,
		TotalTokens:     g.InputTokens + g.OutputTokens,
		LatencyMs:       g.LatencyMs,
		Timestamp:       e.now().UTC(),
	}
	if !g.Success && !anyBlocked {
		r.Error = g.Error
	}

	e.tests.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("status", status.String()),
		attribute.String("pass_reason", reason.String()),
		attribute.String("model_id", model.ModelID),
	))
	e.write(ctx, &r)
	return r
}

func (e *Engine) write(ctx context.Context, r *TestResult) {
	if e.writer == nil {
		return
	}
	if err := e.writer.Write(ctx, r.Record()); err != nil {
		e.logger.Warn("failed to write test result",
			zap.String("test_id", r.ID),
			zap.String("test_name", r.Name),
			zap.Error(err),
		)
	}
}

func (e *Engine) countScreening(ctx context.Context, dir engine.Direction, s engine.Screening) {
	if !s.Enabled {
		return
	}
	e.screenings.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("direction", dir.String()),
		attribute.String("overall", s.Overall.String()),
	))
}
