package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"github.com/shopspring/decimal"
)

// Discrepancy stores both sides of a failed comparison in full so a reviewer
// never has to re-derive context from the source documents.
type Discrepancy struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SessionId     int             `gorm:"index;not null" json:"session_id"`
	SourceDocType DocumentType    `gorm:"size:30" json:"source_doc_type"`
	SourceAccount string          `gorm:"size:255;not null" json:"source_account"`
	TargetDocType DocumentType    `gorm:"size:30" json:"target_doc_type"`
	TargetAccount string          `gorm:"size:255" json:"target_account"`
	ExpectedValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expected_value"`
	ActualValue   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actual_value"`
	// VarianceAmount is always actual - expected.
	VarianceAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"variance_amount"`
	// VariancePct is nil when expected is zero (percentage undefined).
	VariancePct *decimal.Decimal `gorm:"type:decimal(12,4)" json:"variance_pct"`
	Severity    Severity         `gorm:"size:10;index;not null" json:"severity"`
	// MissingCounterpart marks "could not check" (absent data) as distinct
	// from a genuine numeric mismatch.
	MissingCounterpart bool      `json:"missing_counterpart"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BandSeverity classifies an absolute variance against a tolerance T:
// <=T none, <=2T low, <=5T medium, >5T high. Severity is a pure function of
// the two inputs; a zero or negative tolerance treats any variance as high.
func BandSeverity(variance, tolerance decimal.Decimal) Severity {
	abs := variance.Abs()
	if tolerance.LessThanOrEqual(decimal.Zero) {
		if abs.IsZero() {
			return SeverityNone
		}
		return SeverityHigh
	}
	switch {
	case abs.LessThanOrEqual(tolerance):
		return SeverityNone
	case abs.LessThanOrEqual(tolerance.Mul(decimal.NewFromInt(2))):
		return SeverityLow
	case abs.LessThanOrEqual(tolerance.Mul(decimal.NewFromInt(5))):
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func GetDiscrepanciesBySession(ctx context.Context, sessionId int) ([]Discrepancy, error) {
	db := config.GetDB()
	var discrepancies []Discrepancy
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("severity, source_doc_type, source_account").
		Find(&discrepancies).Error; err != nil {
		return nil, err
	}
	return discrepancies, nil
}

func GetRuleResultsBySession(ctx context.Context, sessionId int) ([]RuleResult, error) {
	db := config.GetDB()
	var results []RuleResult
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("rule_id").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
