package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func decPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func lineItem(doc models.DocumentType, code, name, amount string) models.LineItem {
	return models.LineItem{
		DocumentType:         doc,
		AccountCode:          code,
		AccountName:          name,
		Amount:               decimal.RequireFromString(amount),
		ExtractionConfidence: decimal.NewFromFloat(0.9),
	}
}

func testSnapshot(items ...models.LineItem) *Snapshot {
	return NewSnapshot(1, "2026-07", items)
}

func evaluateSingleRule(t *testing.T, rule models.ReconciliationRule, snap *Snapshot) models.RuleResult {
	t.Helper()
	parsed, unevaluable := ParseRules([]models.ReconciliationRule{rule})
	if len(unevaluable) > 0 {
		return unevaluable[0]
	}
	results := NewRuleEvaluator(testLogger()).Evaluate(parsed, snap)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

func TestRuleEvaluator_ToleranceBoundaryInclusive(t *testing.T) {
	cases := []struct {
		actual   string
		expected models.RuleResultStatus
	}{
		{"100.10", models.RuleResultStatusPass},
		{"100.11", models.RuleResultStatusFail},
		{"99.90", models.RuleResultStatusPass},
		{"99.89", models.RuleResultStatusFail},
	}
	for _, tc := range cases {
		snap := testSnapshot(
			lineItem(models.DocumentTypeIncomeStatement, "", "Actual", tc.actual),
			lineItem(models.DocumentTypeIncomeStatement, "", "Reference", "100.00"),
		)
		rule := models.ReconciliationRule{
			ID:                1,
			Name:              "boundary",
			Formula:           "IncomeStatement.Actual - IncomeStatement.Reference",
			ToleranceAbsolute: decPtr("0.10"),
		}
		result := evaluateSingleRule(t, rule, snap)
		if result.Status != tc.expected {
			t.Fatalf("actual %s: expected %s, got %s (computed %s)",
				tc.actual, tc.expected, result.Status, result.ComputedValue.String())
		}
	}
}

func TestRuleEvaluator_BalanceSheetEquation(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalAssets", "24554797.00"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalLiabilities", "24015010.63"),
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalEquity", "539786.37"),
	)
	rule := models.ReconciliationRule{
		ID:                1,
		Name:              "balance sheet equation",
		Formula:           "BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)",
		ToleranceAbsolute: decPtr("0.05"),
	}
	result := evaluateSingleRule(t, rule, snap)
	if !result.ComputedValue.IsZero() {
		t.Fatalf("expected computed value 0, got %s", result.ComputedValue.String())
	}
	if result.Status != models.RuleResultStatusPass {
		t.Fatalf("expected PASS, got %s", result.Status)
	}
}

func TestRuleEvaluator_NetOperatingIncomeMismatch(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeIncomeStatement, "", "NetOperatingIncome", "73106.12"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalRevenue", "120090.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "TotalOperatingExpenses", "47000.00"),
	)
	rule := models.ReconciliationRule{
		ID:                2,
		Name:              "noi check",
		Formula:           "IncomeStatement.NetOperatingIncome - (IncomeStatement.TotalRevenue - IncomeStatement.TotalOperatingExpenses)",
		ToleranceAbsolute: decPtr("0.10"),
	}
	result := evaluateSingleRule(t, rule, snap)
	if result.ComputedValue.String() != "16.12" {
		t.Fatalf("expected computed value 16.12, got %s", result.ComputedValue.String())
	}
	if result.Status != models.RuleResultStatusFail {
		t.Fatalf("expected FAIL, got %s", result.Status)
	}
}

func TestRuleEvaluator_MissingReferenceIsUnevaluable(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBalanceSheet, "", "TotalAssets", "100"),
	)
	rule := models.ReconciliationRule{
		ID:                3,
		Name:              "needs liabilities",
		Formula:           "BalanceSheet.TotalAssets - BalanceSheet.TotalLiabilities",
		ToleranceAbsolute: decPtr("0.05"),
	}
	result := evaluateSingleRule(t, rule, snap)
	if result.Status != models.RuleResultStatusUnevaluable {
		t.Fatalf("expected UNEVALUABLE, got %s", result.Status)
	}
	if result.Detail == "" {
		t.Fatal("expected detail naming the missing line item")
	}
}

func TestRuleEvaluator_MalformedFormulaIsUnevaluable(t *testing.T) {
	rules := []models.ReconciliationRule{
		{ID: 4, Name: "broken", Formula: "BalanceSheet.TotalAssets - ("},
	}
	parsed, unevaluable := ParseRules(rules)
	if len(parsed) != 0 {
		t.Fatalf("expected no parsed rules, got %d", len(parsed))
	}
	if len(unevaluable) != 1 {
		t.Fatalf("expected 1 unevaluable result, got %d", len(unevaluable))
	}
	if unevaluable[0].Status != models.RuleResultStatusUnevaluable {
		t.Fatalf("expected UNEVALUABLE, got %s", unevaluable[0].Status)
	}
}

func TestRuleEvaluator_EitherToleranceSuffices(t *testing.T) {
	// Absolute fails (5 > 0.10) but percent passes (~0.5% <= 1%), so the
	// default either-tolerance rule passes.
	snap := testSnapshot(
		lineItem(models.DocumentTypeIncomeStatement, "", "Actual", "1005.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "Reference", "1000.00"),
	)
	rule := models.ReconciliationRule{
		ID:                5,
		Name:              "either",
		Formula:           "IncomeStatement.Actual - IncomeStatement.Reference",
		ToleranceAbsolute: decPtr("0.10"),
		TolerancePercent:  decPtr("1"),
	}
	result := evaluateSingleRule(t, rule, snap)
	if result.Status != models.RuleResultStatusPass {
		t.Fatalf("expected PASS under either-tolerance, got %s", result.Status)
	}
}

func TestRuleEvaluator_RequireBothDowngradesToWarn(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeIncomeStatement, "", "Actual", "1005.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "Reference", "1000.00"),
	)
	rule := models.ReconciliationRule{
		ID:                    6,
		Name:                  "strict",
		Formula:               "IncomeStatement.Actual - IncomeStatement.Reference",
		ToleranceAbsolute:     decPtr("0.10"),
		TolerancePercent:      decPtr("1"),
		RequireBothTolerances: true,
	}
	result := evaluateSingleRule(t, rule, snap)
	if result.Status != models.RuleResultStatusWarn {
		t.Fatalf("expected WARN when only one required tolerance holds, got %s", result.Status)
	}
}

func TestRuleEvaluator_NoToleranceRequiresExactZero(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeIncomeStatement, "", "Actual", "100.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "Reference", "100.00"),
	)
	rule := models.ReconciliationRule{
		ID:      7,
		Name:    "exact zero",
		Formula: "IncomeStatement.Actual - IncomeStatement.Reference",
	}
	if result := evaluateSingleRule(t, rule, snap); result.Status != models.RuleResultStatusPass {
		t.Fatalf("expected PASS at exact zero, got %s", result.Status)
	}

	snap = testSnapshot(
		lineItem(models.DocumentTypeIncomeStatement, "", "Actual", "100.01"),
		lineItem(models.DocumentTypeIncomeStatement, "", "Reference", "100.00"),
	)
	if result := evaluateSingleRule(t, rule, snap); result.Status != models.RuleResultStatusFail {
		t.Fatalf("expected FAIL at one cent off, got %s", result.Status)
	}
}
