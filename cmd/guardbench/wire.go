package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/triage-ai/guardbench/internal/config"
	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/engine/evaluators"
	"github.com/triage-ai/guardbench/internal/generation"
	"github.com/triage-ai/guardbench/internal/outcome"
	"github.com/triage-ai/guardbench/internal/storage"
	"github.com/triage-ai/guardbench/internal/store"
	"go.uber.org/zap"
)

// closers collects cleanup functions and runs them in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c *closers) close() error {
	var errs []error
	for i := len(*c) - 1; i >= 0; i-- {
		errs = append(errs, (*c)[i]())
	}
	return errors.Join(errs...)
}

// needsAWS reports whether any configured component talks to AWS. A Bedrock
// guardrail backend only counts while guardrails are enabled.
func needsAWS(c *config.Config) bool {
	bedrockGuardrails := c.Guardrails.Enabled && c.Guardrails.Backend == config.BackendBedrock
	return bedrockGuardrails ||
		c.Generation.Provider == config.ProviderBedrock ||
		c.Report.S3Bucket != ""
}

func loadAWS(ctx context.Context, c *config.Config) (aws.Config, error) {
	if !needsAWS(c) {
		return aws.Config{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loadAWS: %w", err)
	}
	return awsCfg, nil
}

// buildEvaluator constructs the configured guardrail backend.
func buildEvaluator(ctx context.Context, c *config.Config, awsCfg aws.Config, cl *closers) (engine.Evaluator, error) {
	g := c.Guardrails
	switch g.Backend {
	case config.BackendBedrock:
		return evaluators.NewBedrockFromConfig(awsCfg), nil
	case config.BackendGRPC:
		if g.GRPCEndpoint == "" {
			return nil, errors.New("buildEvaluator: GUARDRAILS_GRPC_ENDPOINT is not set")
		}
		ev, err := evaluators.NewGRPC(ctx, evaluators.GRPCConfig{
			Endpoint:      g.GRPCEndpoint,
			APIKey:        g.GRPCAPIKey,
			HealthTimeout: g.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("buildEvaluator: %w", err)
		}
		cl.add(ev.Close)
		return ev, nil
	case config.BackendBuiltin:
		ev, err := evaluators.NewBuiltin(evaluators.BuiltinConfig{CustomWords: g.CustomWords})
		if err != nil {
			return nil, fmt.Errorf("buildEvaluator: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("buildEvaluator: unknown backend %q", g.Backend)
	}
}

// buildGateway wires the evaluator into a gateway. Any failure here is fatal.
func buildGateway(ctx context.Context, c *config.Config, awsCfg aws.Config, cl *closers) (*engine.Gateway, engine.Evaluator, error) {
	ev, err := buildEvaluator(ctx, c, awsCfg, cl)
	if err != nil {
		return nil, nil, err
	}
	gw := engine.NewGateway(ev, c.Guardrails.Gateway(), logger)
	logger.Info("guardrail gateway configured",
		zap.Bool("enabled", gw.Enabled()),
		zap.String("backend", ev.Name()),
		zap.String("mode", c.Guardrails.Mode.String()),
		zap.Strings("policies", policyStrings(c.Guardrails.Policies)),
		zap.String("output_pairing", c.Guardrails.Pairing.String()),
	)
	return gw, ev, nil
}

// buildGenerators creates one client per model ID.
func buildGenerators(c *config.Config, awsCfg aws.Config, models []string) ([]outcome.Generator, error) {
	f := generation.Factory{
		Provider: c.Generation.Provider,
		Options: generation.Options{
			MaxTokens:   c.Generation.MaxTokens,
			Temperature: aws.Float64(c.Generation.Temperature),
			Timeout:     c.Generation.Timeout,
		},
		OllamaURL: c.Generation.OllamaURL,
	}
	if f.Provider == config.ProviderBedrock {
		f.Converse = bedrockruntime.NewFromConfig(awsCfg)
	}
	clients, err := f.NewAll(models)
	if err != nil {
		return nil, fmt.Errorf("buildGenerators: %w", err)
	}
	gens := make([]outcome.Generator, 0, len(clients))
	for _, cl := range clients {
		gens = append(gens, cl)
	}
	return gens, nil
}

// buildWriter fans results out to the JSONL log and, when configured,
// ClickHouse. An unreachable ClickHouse falls back to the log writer.
func buildWriter(ctx context.Context, c *config.Config, cl *closers) (storage.ResultWriter, error) {
	var writers []storage.ResultWriter
	if c.ResultsLog != "" {
		jw, err := storage.OpenJSONL(c.ResultsLog)
		if err != nil {
			return nil, fmt.Errorf("buildWriter: %w", err)
		}
		writers = append(writers, jw)
	}

	if c.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, c.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writers = append(writers, storage.NewLogWriter(logger))
		} else {
			writers = append(writers, chWriter)
			logger.Info("clickhouse writer connected")
		}
	} else if len(writers) == 0 {
		writers = append(writers, storage.NewLogWriter(logger))
	}

	w := storage.NewMultiWriter(writers...)
	cl.add(w.Close)
	return w, nil
}

// openStore connects to Postgres, or returns nil when POSTGRES_DSN is unset.
func openStore(ctx context.Context, c *config.Config, cl *closers) (*store.Store, *sql.DB, error) {
	if c.PostgresDSN == "" {
		return nil, nil, nil
	}
	db, err := store.Open(ctx, c.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	cl.add(db.Close)
	logger.Info("postgres connected")
	return store.NewStore(db), db, nil
}

// requireStore is openStore for commands that cannot work without Postgres.
func requireStore(ctx context.Context, c *config.Config, cl *closers) (*store.Store, error) {
	if c.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	st, _, err := openStore(ctx, c, cl)
	return st, err
}

func policyStrings(refs []engine.PolicyRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.String())
	}
	return out
}
