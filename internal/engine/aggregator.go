package engine

import (
	"strings"
)

// AggregateResult holds the overall status and reason after aggregation.
type AggregateResult struct {
	Overall Status
	Reason  string
}

// Aggregate folds per-evaluator verdicts into one overall status.
//
// Rules:
//  1. If ANY verdict has Status=BLOCKED → BLOCKED
//  2. Otherwise → PASSED (ERROR verdicts never block on their own)
func Aggregate(verdicts []Verdict) AggregateResult {
	overall := StatusPassed
	var blockedBy []string

	for _, v := range verdicts {
		if v.Status != StatusBlocked {
			continue
		}
		overall = StatusBlocked
		blockedBy = append(blockedBy, v.Policy.String())
	}

	reason := ""
	if len(blockedBy) > 0 {
		reason = "blocked: " + strings.Join(blockedBy, ", ")
	}

	return AggregateResult{
		Overall: overall,
		Reason:  reason,
	}
}
