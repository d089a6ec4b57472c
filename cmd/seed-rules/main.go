// seed-rules installs the baseline reconciliation rules every portfolio
// starts with. Existing rules with the same name are updated in place, so
// the command is safe to rerun after a deploy.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-rules
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"bitbucket.org/mmdatafocus/properties_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func dec(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func baselineRules() []models.ReconciliationRule {
	return []models.ReconciliationRule{
		{
			Name:              "Balance sheet equation",
			Formula:           "BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)",
			ToleranceAbsolute: dec("0.05"),
			Enabled:           true,
		},
		{
			Name:              "Net operating income check",
			Formula:           "IncomeStatement.NetOperatingIncome - (IncomeStatement.TotalRevenue - IncomeStatement.TotalOperatingExpenses)",
			ToleranceAbsolute: dec("0.10"),
			Enabled:           true,
		},
		{
			Name:              "Cash flow tie-out",
			Formula:           "CashFlow.EndingCash - (CashFlow.BeginningCash + CashFlow.NetCashFlow)",
			ToleranceAbsolute: dec("0.05"),
			Enabled:           true,
		},
		{
			Name:             "Rent roll vs revenue",
			Formula:          "RentRoll.TotalScheduledRent - IncomeStatement.RentalIncome",
			TolerancePercent: dec("0.02"),
			Enabled:          true,
		},
	}
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	for _, rule := range baselineRules() {
		if err := utils.ValidateStruct(rule); err != nil {
			fmt.Fprintf(os.Stderr, "rule %q is incomplete: %v\n", rule.Name, err)
			os.Exit(1)
		}
		if _, err := workflow.ParseFormula(rule.Formula); err != nil {
			fmt.Fprintf(os.Stderr, "rule %q has an invalid formula: %v\n", rule.Name, err)
			os.Exit(1)
		}

		var existing models.ReconciliationRule
		err := db.WithContext(ctx).Where("name = ?", rule.Name).First(&existing).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				fmt.Fprintf(os.Stderr, "failed to lookup rule %q: %v\n", rule.Name, err)
				os.Exit(1)
			}
			if err := db.WithContext(ctx).Create(&rule).Error; err != nil {
				fmt.Fprintf(os.Stderr, "failed to create rule %q: %v\n", rule.Name, err)
				os.Exit(1)
			}
			fmt.Printf("Created rule %q\n", rule.Name)
			continue
		}

		if err := db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"formula":                 rule.Formula,
			"tolerance_absolute":      rule.ToleranceAbsolute,
			"tolerance_percent":       rule.TolerancePercent,
			"require_both_tolerances": rule.RequireBothTolerances,
			"enabled":                 rule.Enabled,
		}).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to update rule %q: %v\n", rule.Name, err)
			os.Exit(1)
		}
		fmt.Printf("Updated rule %q\n", rule.Name)
	}
}
