package engine

import (
	"testing"
)

func verdict(id string, st Status) Verdict {
	v := Verdict{Policy: PolicyRef{ID: id, Version: "1"}, Status: st}
	if st == StatusBlocked {
		v.Action = ActionIntervened
	}
	return v
}

func TestAggregate_AllPassed(t *testing.T) {
	agg := Aggregate([]Verdict{
		verdict("a", StatusPassed),
		verdict("b", StatusPassed),
	})
	if agg.Overall != StatusPassed {
		t.Errorf("expected PASSED, got %v", agg.Overall)
	}
	if agg.Reason != "" {
		t.Errorf("expected empty reason, got: %s", agg.Reason)
	}
}

func TestAggregate_SingleBlock(t *testing.T) {
	agg := Aggregate([]Verdict{
		verdict("a", StatusPassed),
		verdict("b", StatusBlocked),
	})
	if agg.Overall != StatusBlocked {
		t.Errorf("expected BLOCKED, got %v", agg.Overall)
	}
	if agg.Reason != "blocked: b:1" {
		t.Errorf("unexpected reason: %s", agg.Reason)
	}
}

func TestAggregate_AllErrorIsPassed(t *testing.T) {
	agg := Aggregate([]Verdict{
		verdict("a", StatusError),
		verdict("b", StatusError),
		verdict("c", StatusError),
	})
	if agg.Overall != StatusPassed {
		t.Errorf("all-ERROR verdicts must aggregate to PASSED, got %v", agg.Overall)
	}
}

func TestAggregate_EmptyResults(t *testing.T) {
	agg := Aggregate(nil)
	if agg.Overall != StatusPassed {
		t.Errorf("expected PASSED for empty verdicts, got %v", agg.Overall)
	}
}

// TestAggregate_TruthTable checks every combination of three verdict statuses:
// the overall status is BLOCKED exactly when some verdict is BLOCKED.
func TestAggregate_TruthTable(t *testing.T) {
	statuses := []Status{StatusPassed, StatusBlocked, StatusError}
	for _, s1 := range statuses {
		for _, s2 := range statuses {
			for _, s3 := range statuses {
				vs := []Verdict{verdict("a", s1), verdict("b", s2), verdict("c", s3)}
				want := StatusPassed
				if s1 == StatusBlocked || s2 == StatusBlocked || s3 == StatusBlocked {
					want = StatusBlocked
				}
				if got := Aggregate(vs).Overall; got != want {
					t.Errorf("Aggregate(%v,%v,%v) = %v, want %v", s1, s2, s3, got, want)
				}
			}
		}
	}
}

func TestAggregate_MultipleBlockedReasons(t *testing.T) {
	agg := Aggregate([]Verdict{
		verdict("a", StatusBlocked),
		verdict("b", StatusError),
		verdict("c", StatusBlocked),
	})
	if agg.Reason != "blocked: a:1, c:1" {
		t.Errorf("expected both blocking refs in reason, got: %s", agg.Reason)
	}
}

func BenchmarkAggregate(b *testing.B) {
	vs := []Verdict{
		verdict("a", StatusPassed),
		verdict("b", StatusBlocked),
		verdict("c", StatusError),
		verdict("d", StatusPassed),
		verdict("e", StatusPassed),
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Aggregate(vs)
	}
}
