package store

import (
	"context"
	"fmt"

	"github.com/triage-ai/guardbench/internal/outcome"
)

// ListSuites returns the names of every suite stored in the database.
func (s *Store) ListSuites(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT suite FROM guardrail_test_cases ORDER BY suite`)
	if err != nil {
		return nil, fmt.Errorf("ListSuites: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("ListSuites: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ListTestCases returns a suite's test cases in stored order. An unknown
// suite yields an empty slice.
func (s *Store) ListTestCases(ctx context.Context, suite string) ([]outcome.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, category, prompt, expected_guardrail_action
		FROM guardrail_test_cases
		WHERE suite = $1
		ORDER BY position`, suite)
	if err != nil {
		return nil, fmt.Errorf("ListTestCases: %w", err)
	}
	defer rows.Close()

	var cases []outcome.TestCase
	for rows.Next() {
		var tc outcome.TestCase
		var expected string
		if err := rows.Scan(&tc.Name, &tc.Category, &tc.Prompt, &expected); err != nil {
			return nil, fmt.Errorf("ListTestCases: %w", err)
		}
		tc.Expected = outcome.ParseExpectedAction(expected)
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

// ReplaceSuite stores cases as the full contents of suite in a single
// transaction, replacing whatever was there.
func (s *Store) ReplaceSuite(ctx context.Context, suite string, cases []outcome.TestCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceSuite: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM guardrail_test_cases WHERE suite = $1`, suite); err != nil {
		return fmt.Errorf("ReplaceSuite: %w", err)
	}
	for i, tc := range cases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO guardrail_test_cases (suite, position, name, category, prompt, expected_guardrail_action)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			suite, i, tc.Name, tc.Category, tc.Prompt, tc.Expected.String(),
		); err != nil {
			return fmt.Errorf("ReplaceSuite: case %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceSuite: %w", err)
	}
	return nil
}
