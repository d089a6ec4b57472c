package workflow

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/properties_backend/models"
)

// evaluatePipeline runs the in-memory evaluation stages end to end the same
// way executeRun composes them: matching, discrepancy detection, rule
// evaluation, health score.
func evaluatePipeline(snap *Snapshot, mappings []models.AccountMapping, rules []models.ReconciliationRule) ([]MatchProposal, []models.Discrepancy, []models.RuleResult, int) {
	cfg := testReconcileConfig()
	parsed, unevaluable := ParseRules(rules)
	proposals := NewMatchingEngine(cfg, mappings, parsed, DefaultRunOptions(), testLogger()).
		Run(context.Background(), snap)
	discrepancies := NewDiscrepancyDetector(cfg).Detect(proposals, mappings, snap)
	ruleResults := append(NewRuleEvaluator(testLogger()).Evaluate(parsed, snap), unevaluable...)
	score, _ := models.ComputeHealthScore(discrepancies, ruleResults)
	return proposals, discrepancies, ruleResults, score
}

func fingerprint(proposals []MatchProposal, discrepancies []models.Discrepancy, ruleResults []models.RuleResult, score int) string {
	out := fmt.Sprintf("score=%d\n", score)
	for _, p := range proposals {
		out += fmt.Sprintf("match %s.%s -> %s.%s %s %s\n",
			p.Match.SourceDocType, p.Match.SourceAccount,
			p.Match.TargetDocType, p.Match.TargetAccount,
			p.Match.MatchType, p.Match.Confidence.String())
	}
	for _, d := range discrepancies {
		out += fmt.Sprintf("disc %s.%s var=%s sev=%s missing=%v\n",
			d.SourceDocType, d.SourceAccount, d.VarianceAmount.String(), d.Severity, d.MissingCounterpart)
	}
	for _, r := range ruleResults {
		out += fmt.Sprintf("rule %d %s value=%s\n", r.RuleId, r.Status, r.ComputedValue.String())
	}
	return out
}

func TestEvaluationPipeline_IdenticalInputsYieldIdenticalResults(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalAssets", "24554797.00"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalLiabilities", "24015010.63"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalEquity", "539786.37"),
		lineItem(models.DocumentTypeBalanceSheet, "1000", "Cash", "5000.00"),
		lineItem(models.DocumentTypeCashFlow, "1000", "Cash", "5000.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "NetOperatingIncome", "73106.12"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalRevenue", "120090.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalOperatingExpenses", "47000.00"),
		lineItem(models.DocumentTypeBankStatement, "", "Ending Balance", "5000.00"),
	)
	mappings := []models.AccountMapping{{
		ID:            1,
		SourceDocType: models.DocumentTypeBalanceSheet,
		SourceAccount: "Cash",
		TargetDocType: models.DocumentTypeBankStatement,
		TargetAccount: "Ending Balance",
		Enabled:       true,
	}}
	rules := []models.ReconciliationRule{
		{
			ID:                1,
			Name:              "balance sheet equation",
			Formula:           "BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)",
			ToleranceAbsolute: decPtr("0.05"),
			Enabled:           true,
		},
		{
			ID:                2,
			Name:              "noi check",
			Formula:           "IncomeStatement.NetOperatingIncome - (IncomeStatement.TotalRevenue - IncomeStatement.TotalOperatingExpenses)",
			ToleranceAbsolute: decPtr("0.10"),
			Enabled:           true,
		},
	}

	baseline := fingerprint(evaluatePipeline(snap, mappings, rules))
	for i := 0; i < 25; i++ {
		if got := fingerprint(evaluatePipeline(snap, mappings, rules)); got != baseline {
			t.Fatalf("run %d diverged:\nbaseline:\n%s\ngot:\n%s", i, baseline, got)
		}
	}
}

func TestEvaluationPipeline_ScenarioOutcomes(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalAssets", "24554797.00"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalLiabilities", "24015010.63"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalEquity", "539786.37"),
		lineItem(models.DocumentTypeIncomeStatement, "", "NetOperatingIncome", "73106.12"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalRevenue", "120090.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalOperatingExpenses", "47000.00"),
	)
	rules := []models.ReconciliationRule{
		{
			ID:                1,
			Name:              "balance sheet equation",
			Formula:           "BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)",
			ToleranceAbsolute: decPtr("0.05"),
			Enabled:           true,
		},
		{
			ID:                2,
			Name:              "noi check",
			Formula:           "IncomeStatement.NetOperatingIncome - (IncomeStatement.TotalRevenue - IncomeStatement.TotalOperatingExpenses)",
			ToleranceAbsolute: decPtr("0.10"),
			Enabled:           true,
		},
	}

	_, discrepancies, ruleResults, _ := evaluatePipeline(snap, nil, rules)

	statuses := map[int]models.RuleResultStatus{}
	for _, r := range ruleResults {
		statuses[r.RuleId] = r.Status
	}
	if statuses[1] != models.RuleResultStatusPass {
		t.Fatalf("balance sheet equation: expected PASS, got %s", statuses[1])
	}
	if statuses[2] != models.RuleResultStatusFail {
		t.Fatalf("noi check: expected FAIL, got %s", statuses[2])
	}

	foundNoi := false
	for _, d := range discrepancies {
		if d.SourceAccount == "NetOperatingIncome" {
			foundNoi = true
			if d.Severity != models.SeverityHigh {
				t.Fatalf("noi variance: expected high severity, got %s", d.Severity)
			}
			if d.VarianceAmount.String() != "16.12" {
				t.Fatalf("noi variance: expected 16.12, got %s", d.VarianceAmount.String())
			}
		}
	}
	if !foundNoi {
		t.Fatal("expected a discrepancy row for the extracted NOI")
	}
}
