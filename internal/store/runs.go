package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// RunSummary is a row in the guardrail_runs table.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	Suite             string    `json:"suite"`
	Models            []string  `json:"models"`
	Policies          []string  `json:"policies"`
	Total             int       `json:"total"`
	Passed            int       `json:"passed"`
	Errors            int       `json:"errors"`
	BlockedAsExpected int       `json:"blocked_as_expected"`
	NormalPass        int       `json:"normal_pass"`
	InputBlocked      int       `json:"input_blocked"`
	OutputBlocked     int       `json:"output_blocked"`
	EvaluatorErrors   int       `json:"evaluator_errors"`
	PassRate          float64   `json:"pass_rate"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// RecordRun inserts a run's totals.
func (s *Store) RecordRun(ctx context.Context, r RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardrail_runs (
			run_id, suite, models, policies,
			total, passed, errors, blocked_as_expected, normal_pass,
			input_blocked, output_blocked, evaluator_errors, pass_rate,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.RunID, r.Suite, r.Models, r.Policies,
		r.Total, r.Passed, r.Errors, r.BlockedAsExpected, r.NormalPass,
		r.InputBlocked, r.OutputBlocked, r.EvaluatorErrors, r.PassRate,
		r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("RecordRun: %w", err)
	}
	return nil
}

const runColumns = `
	run_id, suite, models, policies,
	total, passed, errors, blocked_as_expected, normal_pass,
	input_blocked, output_blocked, evaluator_errors, pass_rate,
	started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunSummary, error) {
	var r RunSummary
	m := pgtype.NewMap()
	err := sc.Scan(&r.RunID, &r.Suite, m.SQLScanner(&r.Models), m.SQLScanner(&r.Policies),
		&r.Total, &r.Passed, &r.Errors, &r.BlockedAsExpected, &r.NormalPass,
		&r.InputBlocked, &r.OutputBlocked, &r.EvaluatorErrors, &r.PassRate,
		&r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun returns a run by ID, or nil if not found.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM guardrail_runs WHERE run_id = $1`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM guardrail_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	defer rows.Close()

	var runs []*RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
