package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"github.com/shopspring/decimal"
)

// LineItem is one extracted account row from a financial document.
// Rows are written by the extraction pipeline; this service only reads them.
type LineItem struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	PropertyId           int             `gorm:"index;not null" json:"property_id"`
	PeriodId             string          `gorm:"size:20;index;not null" json:"period_id"`
	DocumentType         DocumentType    `gorm:"size:30;index;not null" json:"document_type"`
	AccountCode          string          `gorm:"size:50;index" json:"account_code"`
	AccountName          string          `gorm:"size:255;not null" json:"account_name"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	LineCategory         string          `gorm:"size:50" json:"line_category"`
	IsSubtotal           bool            `json:"is_subtotal"`
	IsTotal              bool            `json:"is_total"`
	ExtractionConfidence decimal.Decimal `gorm:"type:decimal(5,4);default:0" json:"extraction_confidence"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// GetLineItems loads every line item for the property/period across all
// document types, ordered deterministically so re-runs see an identical
// snapshot shape for identical data.
func GetLineItems(ctx context.Context, propertyId int, periodId string) ([]LineItem, error) {
	db := config.GetDB()
	var items []LineItem
	if err := db.WithContext(ctx).
		Where("property_id = ? AND period_id = ?", propertyId, periodId).
		Order("document_type, account_code, account_name, id").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// GetFieldHistory returns prior-period values of one named account for a
// property, ordered by period ascending and excluding the given period.
// Totals are preferred over detail rows when both carry the same name.
func GetFieldHistory(ctx context.Context, propertyId int, fieldName string, beforePeriodId string, limit int) ([]decimal.Decimal, error) {
	db := config.GetDB()
	type row struct {
		PeriodId string
		Amount   decimal.Decimal
	}
	var rows []row
	if err := db.WithContext(ctx).Model(&LineItem{}).
		Select("period_id, amount").
		Where("property_id = ? AND account_name = ? AND period_id < ?", propertyId, fieldName, beforePeriodId).
		Order("period_id DESC, is_total DESC, id").
		Limit(limit * 4).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	// One value per period (first row wins under the ordering above),
	// then reverse to ascending period order.
	seen := make(map[string]bool, len(rows))
	var perPeriod []decimal.Decimal
	for _, r := range rows {
		if seen[r.PeriodId] {
			continue
		}
		seen[r.PeriodId] = true
		perPeriod = append(perPeriod, r.Amount)
		if len(perPeriod) >= limit {
			break
		}
	}
	for i, j := 0, len(perPeriod)-1; i < j; i, j = i+1, j-1 {
		perPeriod[i], perPeriod[j] = perPeriod[j], perPeriod[i]
	}
	return perPeriod, nil
}
