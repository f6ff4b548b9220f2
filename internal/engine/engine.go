package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single screening when the config leaves it unset.
const DefaultTimeout = 10 * time.Second

// OutputPairing controls what an OUTPUT screening sends to the backend.
type OutputPairing int

const (
	PairResponseOnly OutputPairing = iota
	PairPromptAndResponse
)

// ParseOutputPairing maps "response_only" and "prompt_and_response".
// Unrecognised input yields PairResponseOnly and false.
func ParseOutputPairing(s string) (OutputPairing, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "response_only", "":
		return PairResponseOnly, true
	case "prompt_and_response":
		return PairPromptAndResponse, true
	default:
		return PairResponseOnly, false
	}
}

// String returns the configuration spelling of the pairing.
func (p OutputPairing) String() string {
	if p == PairPromptAndResponse {
		return "prompt_and_response"
	}
	return "response_only"
}

// GatewayConfig is the screening policy fixed at construction.
type GatewayConfig struct {
	Enabled  bool
	Mode     Mode
	Policies []PolicyRef
	Timeout  time.Duration // per screening; every backend call runs in parallel under it
	Pairing  OutputPairing
}

// Gateway screens content against every configured PolicyRef and aggregates
// the verdicts. It holds no mutable state and is safe for concurrent use.
type Gateway struct {
	evaluator Evaluator
	cfg       GatewayConfig
	logger    *zap.Logger
	now       func() time.Time
	errors    metric.Int64Counter
}

// NewGateway creates a gateway over the given backend. A nil evaluator is
// treated like an empty PolicyRef list: every screening is disabled.
func NewGateway(ev Evaluator, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	policies := make([]PolicyRef, len(cfg.Policies))
	copy(policies, cfg.Policies)
	cfg.Policies = policies

	counter, err := otel.Meter("github.com/triage-ai/guardbench/internal/engine").Int64Counter(
		"guardbench.evaluator.errors",
		metric.WithDescription("Guardrail evaluator calls that failed or timed out"),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}

	return &Gateway{
		evaluator: ev,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		errors:    counter,
	}
}

// Enabled reports whether any screening will reach the backend.
func (g *Gateway) Enabled() bool {
	return g.cfg.Enabled && len(g.cfg.Policies) > 0 && g.evaluator != nil
}

// Config returns a copy of the gateway's configuration.
func (g *Gateway) Config() GatewayConfig {
	cfg := g.cfg
	cfg.Policies = append([]PolicyRef(nil), g.cfg.Policies...)
	return cfg
}

// Screen runs content through every PolicyRef for the given direction.
func (g *Gateway) Screen(ctx context.Context, content string, dir Direction) Screening {
	return g.screen(ctx, dir, content, "")
}

// ScreenOutput screens a model response. With PairPromptAndResponse the
// originating prompt travels with it to the backend.
func (g *Gateway) ScreenOutput(ctx context.Context, prompt, response string) Screening {
	paired := ""
	if g.cfg.Pairing == PairPromptAndResponse {
		paired = prompt
	}
	return g.screen(ctx, DirectionOutput, response, paired)
}

// evaluatorOutput holds one backend call's result alongside its position.
type evaluatorOutput struct {
	index   int
	raw     *RawVerdict
	err     error
	latency time.Duration
}

// screen fans out one backend call per PolicyRef in parallel and waits for
// all of them or the deadline, whichever comes first.
//
// Each goroutine sends into a channel buffered for every PolicyRef, so calls
// that finish after the deadline never block and their results are dropped.
// Any PolicyRef without a result by then gets a timeout ERROR verdict.
func (g *Gateway) screen(ctx context.Context, dir Direction, content, prompt string) Screening {
	if !g.Enabled() {
		return Disabled()
	}
	if !g.cfg.Mode.Screens(dir) {
		return Screening{Enabled: true, Verdicts: []Verdict{}, Overall: StatusPassed}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	refs := g.cfg.Policies
	ch := make(chan evaluatorOutput, len(refs))

	for i, ref := range refs {
		go func(i int, ref PolicyRef) {
			start := time.Now()
			out := evaluatorOutput{index: i}
			defer func() {
				if r := recover(); r != nil {
					out.raw = nil
					out.err = fmt.Errorf("evaluator panic: %v", r)
				}
				out.latency = time.Since(start)
				ch <- out
			}()
			out.raw, out.err = g.evaluator.Evaluate(ctx, &EvaluateRequest{
				Policy:    ref,
				Direction: dir,
				Content:   content,
				Prompt:    prompt,
			})
		}(i, ref)
	}

	verdicts := make([]Verdict, len(refs))
	collected := make([]bool, len(refs))
	remaining := len(refs)
	for remaining > 0 {
		select {
		case out := <-ch:
			verdicts[out.index] = g.toVerdict(ctx, refs[out.index], dir, out)
			collected[out.index] = true
			remaining--
		case <-ctx.Done():
			g.logger.Warn("guardrail timeout exceeded, marking pending evaluators as errors",
				zap.Duration("timeout", g.cfg.Timeout),
				zap.String("direction", dir.String()),
				zap.Int("pending", remaining),
			)
			remaining = 0
		}
	}

	for i, ok := range collected {
		if ok {
			continue
		}
		verdicts[i] = ErrorVerdict(refs[i], dir, "evaluator timeout: "+ctx.Err().Error(), g.now())
		verdicts[i].LatencyMs = float64(g.cfg.Timeout) / float64(time.Millisecond)
		g.countError(ctx, refs[i], dir)
	}

	agg := Aggregate(verdicts)
	return Screening{
		Enabled:  true,
		Verdicts: verdicts,
		Overall:  agg.Overall,
		Reason:   agg.Reason,
	}
}

func (g *Gateway) toVerdict(ctx context.Context, ref PolicyRef, dir Direction, out evaluatorOutput) Verdict {
	latencyMs := float64(out.latency) / float64(time.Millisecond)

	if out.err == nil && out.raw == nil {
		out.err = fmt.Errorf("evaluator %s returned no verdict", g.evaluator.Name())
	}
	if out.err != nil {
		g.logger.Warn("guardrail evaluation failed",
			zap.String("policy", ref.String()),
			zap.String("direction", dir.String()),
			zap.Error(out.err),
		)
		g.countError(ctx, ref, dir)
		v := ErrorVerdict(ref, dir, out.err.Error(), g.now())
		v.LatencyMs = latencyMs
		return v
	}

	v := Normalize(ref, dir, out.raw, g.now())
	v.LatencyMs = latencyMs
	return v
}

func (g *Gateway) countError(ctx context.Context, ref PolicyRef, dir Direction) {
	g.errors.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("policy", ref.String()),
		attribute.String("direction", dir.String()),
	))
}
