package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/shopspring/decimal"
)

func TestSnapshot_LookupNormalizesNames(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBalanceSheet, "1000", "Total Assets", "100.00"),
	)
	for _, name := range []string{"Total Assets", "total_assets", "TotalAssets", "TOTAL ASSETS", "1000"} {
		if _, ok := snap.Lookup(models.DocumentTypeBalanceSheet, name); !ok {
			t.Fatalf("Lookup(%q) expected hit", name)
		}
	}
	if _, ok := snap.Lookup(models.DocumentTypeIncomeStatement, "Total Assets"); ok {
		t.Fatal("lookup must not cross document types")
	}
}

func TestSnapshot_TotalRowWinsKeyCollision(t *testing.T) {
	detail := lineItem(models.DocumentTypeIncomeStatement, "", "Rental Income", "10.00")
	total := lineItem(models.DocumentTypeIncomeStatement, "", "Rental Income", "9000.00")
	total.IsTotal = true

	snap := testSnapshot(detail, total)
	item, ok := snap.Lookup(models.DocumentTypeIncomeStatement, "Rental Income")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if item.Amount.String() != "9000" {
		t.Fatalf("expected total row to win, got amount %s", item.Amount.String())
	}
}

func TestSnapshot_HigherConfidenceWinsAmongDetailRows(t *testing.T) {
	low := lineItem(models.DocumentTypeIncomeStatement, "", "Rental Income", "10.00")
	low.ExtractionConfidence = decimal.RequireFromString("0.5")
	high := lineItem(models.DocumentTypeIncomeStatement, "", "Rental Income", "20.00")
	high.ExtractionConfidence = decimal.RequireFromString("0.95")

	snap := testSnapshot(low, high)
	item, _ := snap.Lookup(models.DocumentTypeIncomeStatement, "Rental Income")
	if item.Amount.String() != "20" {
		t.Fatalf("expected higher-confidence row to win, got amount %s", item.Amount.String())
	}
}

func TestSnapshot_DocumentTypesFixedOrder(t *testing.T) {
	snap := testSnapshot(
		lineItem(models.DocumentTypeBankStatement, "", "Ending Balance", "1.00"),
		lineItem(models.DocumentTypeBalanceSheet, "", "Cash", "1.00"),
		lineItem(models.DocumentTypeIncomeStatement, "", "Revenue", "1.00"),
	)
	types := snap.DocumentTypes()
	expected := []models.DocumentType{
		models.DocumentTypeBalanceSheet,
		models.DocumentTypeIncomeStatement,
		models.DocumentTypeBankStatement,
	}
	if len(types) != len(expected) {
		t.Fatalf("expected %d types, got %d", len(expected), len(types))
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Fatalf("position %d: expected %s, got %s", i, expected[i], types[i])
		}
	}
}
