package storage

import (
	"context"

	"go.uber.org/zap"
)

// LogWriter is a fallback ResultWriter for local development.
// It logs results as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs results to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(_ context.Context, r *Record) error {
	w.logger.Info("test_result",
		zap.String("run_id", r.RunID),
		zap.String("test_id", r.TestID),
		zap.String("test_name", r.TestName),
		zap.String("category", r.Category),
		zap.String("model_id", r.ModelID),
		zap.String("status", r.Status),
		zap.String("pass_reason", r.PassReason),
		zap.String("expected_action", r.ExpectedAction),
		zap.Bool("was_blocked", r.WasBlocked),
		zap.Int("total_tokens", r.TotalTokens),
		zap.Float64("latency_ms", r.LatencyMs),
		zap.String("error", r.Error),
		zap.String("prompt_preview", Preview(r.Prompt)),
	)
	return nil
}

func (w *LogWriter) Close() error { return nil }
