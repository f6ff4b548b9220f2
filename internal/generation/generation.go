// Package generation invokes the language models under test. Clients never
// return errors: every failure is reported in the Outcome.
package generation

import (
	"context"
	"time"
)

// ModelInfo identifies the model a result was produced by.
type ModelInfo struct {
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
}

// Outcome is one model invocation. Error is set exactly when Success is false.
type Outcome struct {
	Success      bool    `json:"success"`
	Text         string  `json:"text"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	LatencyMs    float64 `json:"latency_ms"`
	Error        string  `json:"error,omitempty"`
}

// Client generates one response for one prompt.
type Client interface {
	Invoke(ctx context.Context, prompt string) Outcome
	Model() ModelInfo
}

// Options are the per-call inference settings shared by every client.
type Options struct {
	MaxTokens   int
	Temperature *float64 // nil leaves the provider default; zero is sent as-is
	Timeout     time.Duration // per call; zero means no extra deadline
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout > 0 {
		return context.WithTimeout(ctx, o.Timeout)
	}
	return context.WithCancel(ctx)
}

func failed(err error, start time.Time) Outcome {
	return Outcome{
		Success:   false,
		Error:     err.Error(),
		LatencyMs: sinceMs(start),
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
