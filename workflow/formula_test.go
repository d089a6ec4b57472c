package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/shopspring/decimal"
)

type mapResolver map[string]string

func (m mapResolver) ResolveRef(docType, account string) (decimal.Decimal, bool) {
	v, ok := m[docType+"."+account]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(v), true
}

func TestParseFormula_EvaluatesArithmetic(t *testing.T) {
	resolver := mapResolver{
		"BalanceSheet.TotalAssets":      "24554797.00",
		"BalanceSheet.TotalLiabilities": "24015010.63",
		"BalanceSheet.TotalEquity":      "539786.37",
		"IncomeStatement.Revenue":       "100",
		"IncomeStatement.Expense":       "40",
	}
	cases := []struct {
		formula  string
		expected string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-IncomeStatement.Expense", "-40"},
		{"10 - -5", "15"},
		{"1,234.50 + 0.50", "1235"},
		{"IncomeStatement.Revenue - IncomeStatement.Expense", "60"},
		{"IncomeStatement.Revenue / 4", "25"},
		{"BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)", "0"},
	}
	for _, tc := range cases {
		expr, err := ParseFormula(tc.formula)
		if err != nil {
			t.Fatalf("ParseFormula(%q) error: %v", tc.formula, err)
		}
		got, err := expr.Eval(resolver)
		if err != nil {
			t.Fatalf("Eval(%q) error: %v", tc.formula, err)
		}
		if got.String() != tc.expected {
			t.Fatalf("Eval(%q) expected %s, got %s", tc.formula, tc.expected, got.String())
		}
	}
}

func TestParseFormula_QuotedAccountNames(t *testing.T) {
	resolver := mapResolver{"IncomeStatement.Net Operating Income": "73106.12"}
	expr, err := ParseFormula(`IncomeStatement."Net Operating Income" - 73106.12`)
	if err != nil {
		t.Fatalf("ParseFormula error: %v", err)
	}
	got, err := expr.Eval(resolver)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected 0, got %s", got.String())
	}
}

func TestParseFormula_RejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"1 +",
		"(1 + 2",
		"BalanceSheet",
		"BalanceSheet.",
		`IncomeStatement."Unterminated`,
		"1 ; drop table",
		"foo(1)",
	}
	for _, formula := range cases {
		if _, err := ParseFormula(formula); err == nil {
			t.Fatalf("ParseFormula(%q) expected error, got nil", formula)
		} else if !errors.Is(err, utils.ErrRuleEvaluation) {
			t.Fatalf("ParseFormula(%q) expected ErrRuleEvaluation, got %v", formula, err)
		}
	}
}

func TestEval_UnresolvedReferenceFailsClosed(t *testing.T) {
	expr, err := ParseFormula("BalanceSheet.Missing + 1")
	if err != nil {
		t.Fatalf("ParseFormula error: %v", err)
	}
	_, err = expr.Eval(mapResolver{})
	if err == nil {
		t.Fatal("expected error for unresolved reference")
	}
	var unresolved *UnresolvedRefError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedRefError, got %v", err)
	}
	if unresolved.DocType != "BalanceSheet" || unresolved.Account != "Missing" {
		t.Fatalf("unexpected unresolved ref %s.%s", unresolved.DocType, unresolved.Account)
	}
	if !errors.Is(err, utils.ErrInputDataMissing) {
		t.Fatalf("expected ErrInputDataMissing in chain, got %v", err)
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	expr, err := ParseFormula("1 / (2 - 2)")
	if err != nil {
		t.Fatalf("ParseFormula error: %v", err)
	}
	if _, err := expr.Eval(mapResolver{}); !errors.Is(err, utils.ErrRuleEvaluation) {
		t.Fatalf("expected ErrRuleEvaluation, got %v", err)
	}
}

func TestRefs_CollectsEveryReferenceInOrder(t *testing.T) {
	expr, err := ParseFormula("A.One - (B.Two + C.Three)")
	if err != nil {
		t.Fatalf("ParseFormula error: %v", err)
	}
	refs := expr.Refs(nil)
	expected := []FormulaRef{
		{DocType: "A", Account: "One"},
		{DocType: "B", Account: "Two"},
		{DocType: "C", Account: "Three"},
	}
	if len(refs) != len(expected) {
		t.Fatalf("expected %d refs, got %d", len(expected), len(refs))
	}
	for i := range expected {
		if refs[i] != expected[i] {
			t.Fatalf("ref %d: expected %+v, got %+v", i, expected[i], refs[i])
		}
	}
}
