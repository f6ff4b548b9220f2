// Package runner executes a suite of test cases against a set of models.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/guardbench/internal/outcome"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config bounds how hard a run drives the backends.
type Config struct {
	Concurrency int     // tests in flight at once; <1 means 1
	RPS         float64 // tests started per second; 0 means unlimited
}

// Run is the outcome of one Execute call.
type Run struct {
	ID         string
	Models     []string
	Results    []outcome.TestResult // case-major: every model for case 0, then case 1, ...
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner fans test cases out across models.
type Runner struct {
	engine  *outcome.Engine
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New creates a runner.
func New(eng *outcome.Engine, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	r := &Runner{engine: eng, cfg: cfg, logger: logger}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return r
}

// Execute runs every case against every model and returns the results in
// input order. Individual test failures are results, not errors; Execute
// only fails when ctx is cancelled before all tests have started.
func (r *Runner) Execute(ctx context.Context, cases []outcome.TestCase, models []outcome.Generator) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]outcome.TestResult, len(cases)*len(models)),
	}
	for _, m := range models {
		run.Models = append(run.Models, m.Model().ModelID)
	}

	eng := r.engine.WithRunID(run.ID)
	logger := r.logger.With(zap.String("run_id", run.ID))
	logger.Info("run started",
		zap.Int("test_cases", len(cases)),
		zap.Strings("models", run.Models),
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Float64("rps", r.cfg.RPS),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for ci, tc := range cases {
		for mi, gen := range models {
			if r.limiter != nil {
				if err := r.limiter.Wait(gctx); err != nil {
					_ = g.Wait()
					return nil, fmt.Errorf("Execute: %w", err)
				}
			}
			if gctx.Err() != nil {
				_ = g.Wait()
				return nil, fmt.Errorf("Execute: %w", gctx.Err())
			}
			idx := ci*len(models) + mi
			g.Go(func() error {
				res := eng.Run(gctx, tc, gen)
				run.Results[idx] = res
				logger.Debug("test finished",
					zap.String("test_id", res.ID),
					zap.String("test_name", res.Name),
					zap.String("model_id", res.ModelID),
					zap.String("status", res.Status.String()),
				)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	run.FinishedAt = time.Now().UTC()
	logger.Info("run finished",
		zap.Int("results", len(run.Results)),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}
