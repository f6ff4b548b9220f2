package chread

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/guardbench/internal/storage"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse guardrail_test_results table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(ctx context.Context, dsn string, logger *zap.Logger) (*Reader, error) {
	conn, err := storage.OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// ResultRow represents a single row from the guardrail_test_results table.
type ResultRow struct {
	RunID            string    `json:"run_id"`
	TestID           string    `json:"test_id"`
	TestName         string    `json:"test_name"`
	Category         string    `json:"category"`
	ModelID          string    `json:"model_id"`
	Provider         string    `json:"provider"`
	Timestamp        time.Time `json:"timestamp"`
	Status           string    `json:"status"`
	PassReason       string    `json:"pass_reason"`
	ExpectedAction   string    `json:"expected_action"`
	WasBlocked       uint8     `json:"-"`
	InputBlocked     uint8     `json:"-"`
	OutputBlocked    uint8     `json:"-"`
	PromptPreview    string    `json:"prompt_preview"`
	ResponsePreview  string    `json:"response_preview"`
	TotalTokens      uint32    `json:"total_tokens"`
	LatencyMs        float32   `json:"latency_ms"`
	Error            string    `json:"error"`
	PolicyIDs        []string  `json:"policy_ids"`
	PolicyDirections []string  `json:"policy_directions"`
	PolicyStatuses   []string  `json:"policy_statuses"`
	ViolationLabels  []string  `json:"violation_labels"`
}

const resultColumns = "run_id, test_id, test_name, category, model_id, provider, timestamp, " +
	"status, pass_reason, expected_action, was_blocked, input_blocked, output_blocked, " +
	"prompt_preview, response_preview, total_tokens, latency_ms, error, " +
	"policy_ids, policy_directions, policy_statuses, violation_labels"

func scanResult(sc interface{ Scan(dest ...any) error }, e *ResultRow) error {
	return sc.Scan(
		&e.RunID, &e.TestID, &e.TestName, &e.Category, &e.ModelID, &e.Provider, &e.Timestamp,
		&e.Status, &e.PassReason, &e.ExpectedAction, &e.WasBlocked, &e.InputBlocked, &e.OutputBlocked,
		&e.PromptPreview, &e.ResponsePreview, &e.TotalTokens, &e.LatencyMs, &e.Error,
		&e.PolicyIDs, &e.PolicyDirections, &e.PolicyStatuses, &e.ViolationLabels,
	)
}

// ListResultsParams holds filters and pagination for result listing.
type ListResultsParams struct {
	RunID     *string
	ModelID   *string
	Category  *string
	Status    *string
	Violation *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// where builds the filter clause and its named arguments.
func (p ListResultsParams) where() (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	add := func(cond, name string, v any) {
		conditions = append(conditions, cond)
		args = append(args, clickhouse.Named(name, v))
	}
	if p.RunID != nil {
		add("run_id = @run_id", "run_id", *p.RunID)
	}
	if p.ModelID != nil {
		add("model_id = @model_id", "model_id", *p.ModelID)
	}
	if p.Category != nil {
		add("category = @category", "category", *p.Category)
	}
	if p.Status != nil {
		add("status = @status", "status", strings.ToUpper(*p.Status))
	}
	if p.Violation != nil {
		add("has(violation_labels, @violation)", "violation", *p.Violation)
	}
	if p.StartTime != nil {
		add("timestamp >= @start_time", "start_time", *p.StartTime)
	}
	if p.EndTime != nil {
		add("timestamp <= @end_time", "end_time", *p.EndTime)
	}
	return strings.Join(conditions, " AND "), args
}

// ListResults returns paginated, filtered results and the total count.
func (r *Reader) ListResults(ctx context.Context, params ListResultsParams) ([]ResultRow, int, error) {
	where, args := params.where()
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM guardrail_test_results WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListResults count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM guardrail_test_results WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		resultColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListResults query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []ResultRow
	for rows.Next() {
		var e ResultRow
		if err := scanResult(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("ListResults scan: %w", err)
		}
		results = append(results, e)
	}

	return results, int(total), rows.Err()
}

// GetResult returns the latest result for a test ID, optionally within one
// run, or nil if not found.
func (r *Reader) GetResult(ctx context.Context, testID, runID string) (*ResultRow, error) {
	query := "SELECT " + resultColumns + " FROM guardrail_test_results WHERE test_id = @test_id"
	args := []any{clickhouse.Named("test_id", testID)}
	if runID != "" {
		query += " AND run_id = @run_id"
		args = append(args, clickhouse.Named("run_id", runID))
	}
	query += " ORDER BY timestamp DESC LIMIT 1"

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetResult: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var e ResultRow
	if err := scanResult(rows, &e); err != nil {
		return nil, fmt.Errorf("GetResult scan: %w", err)
	}
	return &e, nil
}

// ModelStats holds one model's outcomes over the analytics window.
type ModelStats struct {
	ModelID    string  `json:"model_id"`
	Total      int     `json:"total"`
	Passed     int     `json:"passed"`
	Errors     int     `json:"errors"`
	Blocked    int     `json:"blocked"`
	PassRate   float64 `json:"pass_rate"`
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
}

// ViolationCount holds a violation label and its count.
type ViolationCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Models        []ModelStats     `json:"models"`
	TopViolations []ViolationCount `json:"top_violations"`
}

// GetAnalytics returns per-model outcomes and the most frequent violations
// over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{clickhouse.Named("range_start", rangeStart)}

	result := &AnalyticsResult{Models: []ModelStats{}, TopViolations: []ViolationCount{}}

	modelRows, err := r.conn.Query(ctx,
		"SELECT model_id, count() as total, "+
			"countIf(status = 'PASSED') as passed, "+
			"countIf(status = 'ERROR') as errors, "+
			"countIf(was_blocked = 1) as blocked, "+
			"quantile(0.5)(toFloat64(latency_ms)) as p50, "+
			"quantile(0.95)(toFloat64(latency_ms)) as p95 "+
			"FROM guardrail_test_results "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY model_id ORDER BY model_id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics models: %w", err)
	}
	defer func() { _ = modelRows.Close() }()
	for modelRows.Next() {
		var m ModelStats
		var total, passed, errs, blocked uint64
		var p50, p95 float64
		if err := modelRows.Scan(&m.ModelID, &total, &passed, &errs, &blocked, &p50, &p95); err != nil {
			return nil, fmt.Errorf("GetAnalytics models scan: %w", err)
		}
		m.Total, m.Passed, m.Errors, m.Blocked = int(total), int(passed), int(errs), int(blocked)
		if total > 0 {
			m.PassRate = float64(passed) / float64(total) * 100
		}
		m.LatencyP50, m.LatencyP95 = safeFloat(p50), safeFloat(p95)
		result.Models = append(result.Models, m)
	}

	vRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(violation_labels) as label, count() as count "+
			"FROM guardrail_test_results "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY label ORDER BY count DESC, label LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_violations: %w", err)
	}
	defer func() { _ = vRows.Close() }()
	for vRows.Next() {
		var label string
		var count uint64
		if err := vRows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_violations scan: %w", err)
		}
		result.TopViolations = append(result.TopViolations, ViolationCount{Label: label, Count: int(count)})
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
