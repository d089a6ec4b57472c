package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"github.com/shopspring/decimal"
)

// AnomalyRecord stores the full computation (mean, stddev, z) next to the
// verdict so every flagged value is reproducible and displayable.
type AnomalyRecord struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PropertyId     int             `gorm:"index:idx_anomaly_prop_period;not null" json:"property_id"`
	PeriodId       string          `gorm:"size:20;index:idx_anomaly_prop_period;not null" json:"period_id"`
	FieldName      string          `gorm:"size:255;index;not null" json:"field_name"`
	Value          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"value"`
	BaselineMean   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"baseline_mean"`
	BaselineStddev decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"baseline_stddev"`
	ZScore         decimal.Decimal `gorm:"type:decimal(12,4);default:0" json:"z_score"`
	Severity       Severity        `gorm:"size:10;index;not null" json:"severity"`
	// Method records which detection path produced the verdict:
	// "zscore", "pct_change" (short history) or "flat_series" (stddev 0).
	Method    string    `gorm:"size:20" json:"method"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetAnomaliesByPropertyPeriod(ctx context.Context, propertyId int, periodId string) ([]AnomalyRecord, error) {
	db := config.GetDB()
	var records []AnomalyRecord
	if err := db.WithContext(ctx).
		Where("property_id = ? AND period_id = ?", propertyId, periodId).
		Order("field_name").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
