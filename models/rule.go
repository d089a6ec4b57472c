package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationRule is an operator-editable arithmetic check, e.g.
//
//	BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)
//
// The formula is data: it is parsed into an expression tree at run time and
// never handed to a general-purpose evaluator. Edits apply to future runs
// only; stored results keep the formula text they were computed with.
type ReconciliationRule struct {
	ID                    int              `gorm:"primary_key" json:"id"`
	Name                  string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Formula               string           `gorm:"type:text;not null" json:"formula" binding:"required"`
	ToleranceAbsolute     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"tolerance_absolute"`
	TolerancePercent      *decimal.Decimal `gorm:"type:decimal(10,4)" json:"tolerance_percent"`
	RequireBothTolerances bool             `json:"require_both_tolerances"`
	Enabled               bool             `gorm:"default:true;index" json:"enabled"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// AccountMapping is an explicit operator-configured pairing consumed by the
// rule-based matcher. It always wins over automatic matchers.
type AccountMapping struct {
	ID            int          `gorm:"primary_key" json:"id"`
	SourceDocType DocumentType `gorm:"size:30;not null" json:"source_doc_type" binding:"required"`
	SourceAccount string       `gorm:"size:255;not null;index" json:"source_account" binding:"required"`
	TargetDocType DocumentType `gorm:"size:30;not null" json:"target_doc_type" binding:"required"`
	TargetAccount string       `gorm:"size:255;not null" json:"target_account" binding:"required"`
	Enabled       bool         `gorm:"default:true;index" json:"enabled"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// RuleResult is the per-session outcome of one rule. Formula and tolerances
// are denormalized onto the row so later rule edits cannot rewrite history.
type RuleResult struct {
	ID                int              `gorm:"primary_key" json:"id"`
	SessionId         int              `gorm:"index;not null" json:"session_id"`
	RuleId            int              `gorm:"index;not null" json:"rule_id"`
	RuleName          string           `gorm:"size:255" json:"rule_name"`
	Formula           string           `gorm:"type:text" json:"formula"`
	ToleranceAbsolute *decimal.Decimal `gorm:"type:decimal(20,4)" json:"tolerance_absolute"`
	TolerancePercent  *decimal.Decimal `gorm:"type:decimal(10,4)" json:"tolerance_percent"`
	ComputedValue     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"computed_value"`
	Status            RuleResultStatus `gorm:"size:20;index;not null" json:"status"`
	// Detail explains UNEVALUABLE results (which reference was missing, etc)
	// so "can't check" is never displayed as "checked and wrong".
	Detail    string    `gorm:"size:500" json:"detail"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetRules(ctx context.Context) ([]ReconciliationRule, error) {
	db := config.GetDB()
	var rules []ReconciliationRule
	if err := db.WithContext(ctx).Order("id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func GetEnabledRules(ctx context.Context) ([]ReconciliationRule, error) {
	db := config.GetDB()
	var rules []ReconciliationRule
	if err := db.WithContext(ctx).Where("enabled = true").Order("id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func GetEnabledAccountMappings(ctx context.Context) ([]AccountMapping, error) {
	db := config.GetDB()
	var mappings []AccountMapping
	if err := db.WithContext(ctx).Where("enabled = true").Order("id").Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func GetRuleById(ctx context.Context, id int) (*ReconciliationRule, error) {
	db := config.GetDB()
	var rule ReconciliationRule
	if err := db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func CreateRule(ctx context.Context, rule *ReconciliationRule) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(rule).Error
}

func UpdateRule(ctx context.Context, rule *ReconciliationRule, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(rule).Updates(updates).Error
}

// HasTolerance reports whether at least one tolerance is configured.
// A rule without tolerances compares against exact zero.
func (r ReconciliationRule) HasTolerance() bool {
	return r.ToleranceAbsolute != nil || r.TolerancePercent != nil
}
