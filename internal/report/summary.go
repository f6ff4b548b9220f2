// Package report summarizes test results and renders them as text or JSON.
package report

import (
	"sort"
	"time"

	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/outcome"
	"github.com/triage-ai/guardbench/internal/store"
)

const topViolations = 10

// CategoryRow is one line of the category performance table.
type CategoryRow struct {
	Category          string  `json:"category"`
	Total             int     `json:"total"`
	NormalPass        int     `json:"normal_pass"`
	BlockedAsExpected int     `json:"blocked_as_expected"`
	Errors            int     `json:"errors"`
	PassRate          float64 `json:"pass_rate"`
}

// ViolationCount is how often one violation label was seen.
type ViolationCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary is the aggregate view of a run.
type Summary struct {
	RunID             string           `json:"run_id,omitempty"`
	Suite             string           `json:"suite,omitempty"`
	Models            []string         `json:"models"`
	Policies          []string         `json:"policies"`
	Mode              string           `json:"mode"`
	Total             int              `json:"total"`
	Passed            int              `json:"passed"`
	NormalPass        int              `json:"normal_pass"`
	BlockedAsExpected int              `json:"blocked_as_expected"`
	Errors            int              `json:"errors"`
	PassRate          float64          `json:"pass_rate"`
	Categories        []CategoryRow    `json:"categories"`
	InputBlocks       int              `json:"input_blocks"`
	OutputBlocks      int              `json:"output_blocks"`
	TotalBlocks       int              `json:"total_blocks"`
	EvaluatorErrors   int              `json:"evaluator_errors"`
	TotalTokens       int              `json:"total_tokens"`
	Violations        []ViolationCount `json:"top_violations"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
}

// Summarize tallies results. Block counts are per intervening verdict, so a
// prompt blocked by two policies counts twice. Every violation kind is
// tallied by its label.
func Summarize(results []outcome.TestResult) *Summary {
	s := &Summary{Total: len(results), Models: []string{}, Policies: []string{}}
	cats := map[string]*CategoryRow{}
	labels := map[string]int{}
	models := map[string]bool{}

	for i := range results {
		r := &results[i]
		if !models[r.ModelID] {
			models[r.ModelID] = true
			s.Models = append(s.Models, r.ModelID)
		}

		row := cats[r.Category]
		if row == nil {
			row = &CategoryRow{Category: r.Category}
			cats[r.Category] = row
		}
		row.Total++

		switch {
		case r.Status == outcome.StatusPassed && r.PassReason == outcome.BlockedAsExpected:
			s.Passed++
			s.BlockedAsExpected++
			row.BlockedAsExpected++
		case r.Status == outcome.StatusPassed:
			s.Passed++
			s.NormalPass++
			row.NormalPass++
		default:
			s.Errors++
			row.Errors++
		}
		s.TotalTokens += r.TotalTokens

		s.InputBlocks += tallyScreening(r.InputScreening, labels, &s.EvaluatorErrors)
		s.OutputBlocks += tallyScreening(r.OutputScreening, labels, &s.EvaluatorErrors)
	}

	s.TotalBlocks = s.InputBlocks + s.OutputBlocks
	s.PassRate = percent(s.Passed, s.Total)

	for _, row := range cats {
		row.PassRate = percent(row.NormalPass+row.BlockedAsExpected, row.Total)
		s.Categories = append(s.Categories, *row)
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Category < s.Categories[j].Category })

	for label, n := range labels {
		s.Violations = append(s.Violations, ViolationCount{Label: label, Count: n})
	}
	sort.Slice(s.Violations, func(i, j int) bool {
		if s.Violations[i].Count != s.Violations[j].Count {
			return s.Violations[i].Count > s.Violations[j].Count
		}
		return s.Violations[i].Label < s.Violations[j].Label
	})
	if len(s.Violations) > topViolations {
		s.Violations = s.Violations[:topViolations]
	}
	return s
}

// tallyScreening counts intervening verdicts and their violations.
func tallyScreening(sc engine.Screening, labels map[string]int, evalErrors *int) int {
	if !sc.Enabled {
		return 0
	}
	blocks := 0
	for _, v := range sc.Verdicts {
		switch v.Status {
		case engine.StatusError:
			*evalErrors++
		case engine.StatusBlocked:
			blocks++
			for _, vi := range v.Violations {
				labels[vi.Label()]++
			}
		}
	}
	return blocks
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// RunSummary converts s to the row persisted for the run.
func (s *Summary) RunSummary() store.RunSummary {
	return store.RunSummary{
		RunID:             s.RunID,
		Suite:             s.Suite,
		Models:            s.Models,
		Policies:          s.Policies,
		Total:             s.Total,
		Passed:            s.Passed,
		Errors:            s.Errors,
		BlockedAsExpected: s.BlockedAsExpected,
		NormalPass:        s.NormalPass,
		InputBlocked:      s.InputBlocks,
		OutputBlocked:     s.OutputBlocks,
		EvaluatorErrors:   s.EvaluatorErrors,
		PassRate:          s.PassRate,
		StartedAt:         s.StartedAt,
		FinishedAt:        s.FinishedAt,
	}
}
