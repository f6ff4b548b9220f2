package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteText renders the executive summary, category performance and
// guardrails overview as aligned tables.
func WriteText(w io.Writer, s *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := func(format string, args ...any) { fmt.Fprintf(tw, format, args...) }

	p("Guardrail Evaluation Report\n")
	if s.RunID != "" {
		p("Run:\t%s\n", s.RunID)
	}
	if s.Suite != "" {
		p("Suite:\t%s\n", s.Suite)
	}
	p("Models:\t%s\n", orNone(s.Models))
	p("Guardrails:\t%s (mode %s)\n", orNone(s.Policies), s.Mode)
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		p("Duration:\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}

	p("\nExecutive Summary\n")
	p("Metric\tCount\t%%\n")
	p("Total Test Cases\t%d\t100%%\n", s.Total)
	p("Passed\t%d\t%.1f%%\n", s.Passed, s.PassRate)
	p("  Passed (Normal)\t%d\t%.1f%%\n", s.NormalPass, percent(s.NormalPass, s.Total))
	p("  Passed (Blocked)\t%d\t%.1f%%\n", s.BlockedAsExpected, percent(s.BlockedAsExpected, s.Total))
	p("Errors\t%d\t%.1f%%\n", s.Errors, percent(s.Errors, s.Total))
	p("Total Tokens\t%d\t\n", s.TotalTokens)

	if len(s.Categories) > 0 {
		p("\nCategory Performance\n")
		p("Category\tTotal\tPassed (Normal)\tPassed (Blocked)\tErrors\tPass Rate\n")
		for _, c := range s.Categories {
			p("%s\t%d\t%d\t%d\t%d\t%.0f%%\n",
				c.Category, c.Total, c.NormalPass, c.BlockedAsExpected, c.Errors, c.PassRate)
		}
	}

	p("\nGuardrails Analysis\n")
	p("Input Blocks\t%d\n", s.InputBlocks)
	p("Output Blocks\t%d\n", s.OutputBlocks)
	p("Total Blocks\t%d\n", s.TotalBlocks)
	p("Evaluator Errors\t%d\n", s.EvaluatorErrors)

	if len(s.Violations) > 0 {
		p("\nTop Policy Violations\n")
		p("Violation\tCount\n")
		for _, v := range s.Violations {
			p("%s\t%d\n", v.Label, v.Count)
		}
	}

	return tw.Flush()
}

func orNone(xs []string) string {
	if len(xs) == 0 {
		return "none"
	}
	return strings.Join(xs, ", ")
}
