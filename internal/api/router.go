package api

import (
	"context"
	"net/http"

	"github.com/triage-ai/guardbench/internal/auth"
	"github.com/triage-ai/guardbench/internal/chread"
	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/outcome"
	"github.com/triage-ai/guardbench/internal/store"
	"go.uber.org/zap"
)

// RunStore reads run summaries. *store.Store implements it.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*store.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]*store.RunSummary, error)
}

// ResultReader reads persisted test results. *chread.Reader implements it.
type ResultReader interface {
	ListResults(ctx context.Context, params chread.ListResultsParams) ([]chread.ResultRow, int, error)
	GetResult(ctx context.Context, testID, runID string) (*chread.ResultRow, error)
	GetAnalytics(ctx context.Context, days int) (*chread.AnalyticsResult, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gateway      *engine.Gateway
	Engine       *outcome.Engine
	Generators   map[string]outcome.Generator // keyed by model ID
	DefaultModel string
	Auth         auth.Authenticator // nil disables auth
	Runs         RunStore           // nil if Postgres unavailable
	Reader       ResultReader       // nil if ClickHouse unavailable
	Logger       *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Screening and single-test evaluation (auth required via Bearer gbk_ token)
	mux.HandleFunc("POST /v1/screen", deps.authMiddleware(deps.handleScreen))
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.handleEvaluate))
	mux.HandleFunc("GET /v1/config", deps.authMiddleware(deps.handleConfig))

	// Run history
	mux.HandleFunc("GET /v1/runs", deps.authMiddleware(deps.handleListRuns))
	mux.HandleFunc("GET /v1/runs/{run_id}", deps.authMiddleware(deps.handleGetRun))

	// Results & Analytics
	mux.HandleFunc("GET /v1/results", deps.authMiddleware(deps.handleListResults))
	mux.HandleFunc("GET /v1/results/{test_id}", deps.authMiddleware(deps.handleGetResult))
	mux.HandleFunc("GET /v1/analytics", deps.authMiddleware(deps.handleGetAnalytics))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
