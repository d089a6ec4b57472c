package models

import "testing"

func TestComputeHealthScore_CleanSessionIsGreen(t *testing.T) {
	score, status := ComputeHealthScore(nil, []RuleResult{
		{Status: RuleResultStatusPass},
		{Status: RuleResultStatusPass},
	})
	if score != 100 {
		t.Fatalf("expected 100, got %d", score)
	}
	if status != HealthStatusGreen {
		t.Fatalf("expected GREEN, got %s", status)
	}
}

func TestComputeHealthScore_Weights(t *testing.T) {
	discrepancies := []Discrepancy{
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
		{Severity: SeverityNone},
	}
	ruleResults := []RuleResult{
		{Status: RuleResultStatusFail},
		{Status: RuleResultStatusUnevaluable},
		{Status: RuleResultStatusWarn},
		{Status: RuleResultStatusPass},
	}
	// 100 - 10 - 4 - 1 - 8 - 8 - 3 = 66
	score, status := ComputeHealthScore(discrepancies, ruleResults)
	if score != 66 {
		t.Fatalf("expected 66, got %d", score)
	}
	if status != HealthStatusRed {
		t.Fatalf("expected RED, got %s", status)
	}
}

func TestComputeHealthScore_AddingHighDiscrepancyStrictlyDecreases(t *testing.T) {
	discrepancies := []Discrepancy{{Severity: SeverityMedium}}
	before, _ := ComputeHealthScore(discrepancies, nil)
	after, _ := ComputeHealthScore(append(discrepancies, Discrepancy{Severity: SeverityHigh}), nil)
	if after >= before {
		t.Fatalf("expected strict decrease, got %d -> %d", before, after)
	}
}

func TestComputeHealthScore_ClampsAtZero(t *testing.T) {
	var discrepancies []Discrepancy
	for i := 0; i < 20; i++ {
		discrepancies = append(discrepancies, Discrepancy{Severity: SeverityHigh})
	}
	score, status := ComputeHealthScore(discrepancies, nil)
	if score != 0 {
		t.Fatalf("expected clamp at 0, got %d", score)
	}
	if status != HealthStatusRed {
		t.Fatalf("expected RED, got %s", status)
	}
}

func TestComputeHealthScore_UnevaluableCountsAsFail(t *testing.T) {
	failed, _ := ComputeHealthScore(nil, []RuleResult{{Status: RuleResultStatusFail}})
	unevaluable, _ := ComputeHealthScore(nil, []RuleResult{{Status: RuleResultStatusUnevaluable}})
	if failed != unevaluable {
		t.Fatalf("UNEVALUABLE must weigh like FAIL: %d vs %d", failed, unevaluable)
	}
}

func TestComputeHealthScore_StatusBoundaries(t *testing.T) {
	cases := []struct {
		score    int
		expected HealthStatus
	}{
		{100, HealthStatusGreen},
		{90, HealthStatusGreen},
		{89, HealthStatusYellow},
		{70, HealthStatusYellow},
		{69, HealthStatusRed},
		{0, HealthStatusRed},
	}
	for _, tc := range cases {
		if got := healthStatusForScore(tc.score); got != tc.expected {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.expected, got)
		}
	}
}

func TestComputeHealthScore_Idempotent(t *testing.T) {
	discrepancies := []Discrepancy{{Severity: SeverityHigh}, {Severity: SeverityLow}}
	ruleResults := []RuleResult{{Status: RuleResultStatusWarn}}
	first, firstStatus := ComputeHealthScore(discrepancies, ruleResults)
	for i := 0; i < 5; i++ {
		score, status := ComputeHealthScore(discrepancies, ruleResults)
		if score != first || status != firstStatus {
			t.Fatalf("recomputation %d drifted: %d/%s vs %d/%s", i, score, status, first, firstStatus)
		}
	}
}
