package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/triage-ai/guardbench/internal/outcome"
	"github.com/triage-ai/guardbench/internal/report"
	"github.com/triage-ai/guardbench/internal/runner"
	"github.com/triage-ai/guardbench/internal/store"
	"github.com/triage-ai/guardbench/internal/suite"
	"go.uber.org/zap"
)

var (
	runSuiteFile string
	runDBSuite   string
	runModels    string
	runReport    string
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a test suite against the configured models",
	Long: `Run every prompt of a suite through the guardrail gateway and each model,
then print a summary.

The suite comes from a YAML file (--suite) or from Postgres (--db-suite).
Results are appended to GUARDBENCH_RESULTS_LOG and, when CLICKHOUSE_DSN is
set, inserted into ClickHouse. The run summary is recorded in Postgres and
uploaded to S3 when those are configured.

Examples:
  guardbench run --suite suites/baseline.yaml
  guardbench run --db-suite baseline --models gpt-4o,gpt-4o-mini --json`,
	RunE: runSuite,
}

func init() {
	runCmd.Flags().StringVar(&runSuiteFile, "suite", "", "Path to a YAML suite file")
	runCmd.Flags().StringVar(&runDBSuite, "db-suite", "", "Name of a suite stored in Postgres")
	runCmd.Flags().StringVar(&runModels, "models", "", "Comma-separated model IDs (overrides GENERATION_MODELS)")
	runCmd.Flags().StringVar(&runReport, "report", "", "Also write the JSON summary to this file")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the summary as JSON instead of text")
	runCmd.MarkFlagsMutuallyExclusive("suite", "db-suite")
}

func runSuite(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var cl closers
	defer func() {
		if err := cl.close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	st, _, err := openStore(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	suiteName, cases, err := loadCases(ctx, st)
	if err != nil {
		return err
	}

	models := cfg.Generation.Models
	if runModels != "" {
		models = splitModels(runModels)
	}
	if len(models) == 0 {
		return errors.New("no models configured: set GENERATION_MODELS or --models")
	}

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return err
	}
	gw, _, err := buildGateway(ctx, cfg, awsCfg, &cl)
	if err != nil {
		return err
	}
	gens, err := buildGenerators(cfg, awsCfg, models)
	if err != nil {
		return err
	}
	writer, err := buildWriter(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	eng := outcome.NewEngine(gw, writer, logger)
	r := runner.New(eng, runner.Config{Concurrency: cfg.Concurrency, RPS: cfg.RPS}, logger)
	run, err := r.Execute(ctx, cases, gens)
	if err != nil {
		return err
	}

	summary := report.Summarize(run.Results)
	summary.RunID = run.ID
	summary.Suite = suiteName
	summary.Models = run.Models
	summary.Policies = policyStrings(cfg.Guardrails.Policies)
	summary.Mode = cfg.Guardrails.Mode.String()
	summary.StartedAt = run.StartedAt
	summary.FinishedAt = run.FinishedAt

	if err := printSummary(cmd.OutOrStdout(), summary, runJSON); err != nil {
		return err
	}
	if runReport != "" {
		if err := writeReportFile(runReport, summary); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", runReport))
	}

	publish(ctx, st, summary)
	return nil
}

// loadCases returns the suite name and its test cases from the file or the
// database, whichever flag was given.
func loadCases(ctx context.Context, st *store.Store) (string, []outcome.TestCase, error) {
	switch {
	case runSuiteFile != "":
		s, err := suite.LoadFile(runSuiteFile)
		if err != nil {
			return "", nil, err
		}
		name := s.Name
		if name == "" {
			name = runSuiteFile
		}
		return name, s.TestCases(), nil
	case runDBSuite != "":
		if st == nil {
			return "", nil, errors.New("--db-suite requires POSTGRES_DSN")
		}
		cases, err := st.ListTestCases(ctx, runDBSuite)
		if err != nil {
			return "", nil, err
		}
		if len(cases) == 0 {
			return "", nil, fmt.Errorf("suite %q has no test cases", runDBSuite)
		}
		return runDBSuite, cases, nil
	default:
		return "", nil, errors.New("one of --suite or --db-suite is required")
	}
}

func printSummary(w io.Writer, s *report.Summary, asJSON bool) error {
	if asJSON {
		return report.WriteJSON(w, s)
	}
	return report.WriteText(w, s)
}

func writeReportFile(path string, s *report.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writeReportFile: %w", err)
	}
	if err := report.WriteJSON(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("writeReportFile: %w", err)
	}
	return f.Close()
}

// publish records the run in Postgres and uploads the summary to S3. Both
// are best-effort: the results are already written.
func publish(ctx context.Context, st *store.Store, s *report.Summary) {
	if st != nil {
		if err := st.RecordRun(ctx, s.RunSummary()); err != nil {
			logger.Warn("failed to record run", zap.String("run_id", s.RunID), zap.Error(err))
		}
	}

	if cfg.Report.S3Bucket == "" {
		return
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		logger.Warn("failed to load aws config for report upload", zap.Error(err))
		return
	}
	up := report.NewS3Uploader(awsCfg, report.S3Config{
		Bucket:   cfg.Report.S3Bucket,
		Prefix:   cfg.Report.S3Prefix,
		Endpoint: cfg.Report.S3Endpoint,
	})
	uri, err := up.Upload(ctx, s)
	if err != nil {
		logger.Warn("failed to upload report", zap.String("run_id", s.RunID), zap.Error(err))
		return
	}
	logger.Info("report uploaded", zap.String("uri", uri))
}

func splitModels(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
