package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/triage-ai/guardbench/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Set by loadConfig before any subcommand runs.
var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "guardbench",
	Short: "Benchmark guardrail policies against language models",
	Long: `guardbench runs suites of adversarial and benign prompts through a
guardrail gateway and the models under test, and decides for every test
whether the guardrails behaved as expected.

Configuration comes from the environment (GUARDRAILS_*, GENERATION_*,
GUARDBENCH_*); flags override the suite, models and report output.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(suiteCmd)
	rootCmd.AddCommand(keysCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if logger != nil {
		_ = logger.Sync() // best-effort flush
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the logger. Recoverable
// problems found while loading are logged once here.
func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	cfg = c
	logger = mustBuildLogger(cfg.LogLevel)
	for _, w := range cfg.Warnings {
		logger.Warn("configuration warning", zap.Error(w))
	}
	return nil
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zcfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return l
}
