package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
)

// HealthScore is the persisted 0-100 aggregate for a session. It is always
// re-derivable from the session's Match/Discrepancy/RuleResult rows alone;
// there is no running counter anywhere.
type HealthScore struct {
	ID         int          `gorm:"primary_key" json:"id"`
	SessionId  int          `gorm:"uniqueIndex;not null" json:"session_id"`
	Score      int          `gorm:"not null" json:"score"`
	Status     HealthStatus `gorm:"size:10;index;not null" json:"status"`
	ComputedAt time.Time    `gorm:"not null" json:"computed_at"`
}

// HealthScorePoint is the per-(property, period) time series used for trend
// display. One point is appended per completed run.
type HealthScorePoint struct {
	ID         int          `gorm:"primary_key" json:"id"`
	PropertyId int          `gorm:"index:idx_health_prop_period;not null" json:"property_id"`
	PeriodId   string       `gorm:"size:20;index:idx_health_prop_period;not null" json:"period_id"`
	SessionId  int          `gorm:"index;not null" json:"session_id"`
	Score      int          `gorm:"not null" json:"score"`
	Status     HealthStatus `gorm:"size:10;not null" json:"status"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// Scoring weights. Deterministic by construction: counts in, score out.
const (
	penaltyHighDiscrepancy   = 10
	penaltyMediumDiscrepancy = 4
	penaltyLowDiscrepancy    = 1
	penaltyFailedRule        = 8
	penaltyWarnRule          = 3
)

// ComputeHealthScore derives the score purely from persisted result rows.
// Every penalty is non-negative, so adding a discrepancy or a failing rule
// can only lower the score, never raise it.
func ComputeHealthScore(discrepancies []Discrepancy, ruleResults []RuleResult) (int, HealthStatus) {
	score := 100
	for _, d := range discrepancies {
		switch d.Severity {
		case SeverityHigh:
			score -= penaltyHighDiscrepancy
		case SeverityMedium:
			score -= penaltyMediumDiscrepancy
		case SeverityLow:
			score -= penaltyLowDiscrepancy
		}
	}
	for _, r := range ruleResults {
		switch r.Status {
		case RuleResultStatusFail, RuleResultStatusUnevaluable:
			score -= penaltyFailedRule
		case RuleResultStatusWarn:
			score -= penaltyWarnRule
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, healthStatusForScore(score)
}

func healthStatusForScore(score int) HealthStatus {
	switch {
	case score >= 90:
		return HealthStatusGreen
	case score >= 70:
		return HealthStatusYellow
	default:
		return HealthStatusRed
	}
}

func GetHealthScoreBySession(ctx context.Context, sessionId int) (*HealthScore, error) {
	db := config.GetDB()
	var score HealthScore
	if err := db.WithContext(ctx).Where("session_id = ?", sessionId).First(&score).Error; err != nil {
		return nil, err
	}
	return &score, nil
}

func GetHealthTrend(ctx context.Context, propertyId int, periodId string) ([]HealthScorePoint, error) {
	db := config.GetDB()
	var points []HealthScorePoint
	if err := db.WithContext(ctx).
		Where("property_id = ? AND period_id = ?", propertyId, periodId).
		Order("created_at").
		Find(&points).Error; err != nil {
		return nil, err
	}
	return points, nil
}
