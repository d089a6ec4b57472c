package workflow

import (
	"context"
	"fmt"
	"math"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AnomalyDetector scores a field's current value against its own history
// for the property. It runs independently of reconciliation sessions but
// shares the severity vocabulary.
type AnomalyDetector struct {
	cfg    config.ReconcileConfig
	logger *logrus.Logger
}

func NewAnomalyDetector(cfg config.ReconcileConfig, logger *logrus.Logger) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg, logger: logger}
}

// AnomalyVerdict carries the full computation, not just the call, so every
// record is reproducible from its own row.
type AnomalyVerdict struct {
	Mean     decimal.Decimal
	Stddev   decimal.Decimal
	ZScore   decimal.Decimal
	Severity models.Severity
	Method   string
}

const (
	anomalyMethodZScore     = "zscore"
	anomalyMethodPctChange  = "pct_change"
	anomalyMethodFlatSeries = "flat_series"
)

// EvaluateSeries scores current against history (ordered oldest to newest,
// current excluded). Short series fall back to percentage change from the
// prior period because stddev over one or two points is noise.
func EvaluateSeries(history []decimal.Decimal, current decimal.Decimal, cfg config.ReconcileConfig) AnomalyVerdict {
	if len(history) > cfg.AnomalyWindow {
		history = history[len(history)-cfg.AnomalyWindow:]
	}

	if len(history) < cfg.AnomalyMinHistory {
		return pctChangeVerdict(history, current)
	}

	mean, stddev := meanStddev(history)

	if stddev.IsZero() {
		verdict := AnomalyVerdict{Mean: mean, Stddev: decimal.Zero, ZScore: decimal.Zero, Method: anomalyMethodFlatSeries}
		if current.Equal(mean) {
			verdict.Severity = models.SeverityNone
		} else {
			// any movement off a perfectly flat baseline is maximal
			verdict.Severity = models.SeverityHigh
		}
		return verdict
	}

	z := current.Sub(mean).Div(stddev)
	verdict := AnomalyVerdict{Mean: mean, Stddev: stddev, ZScore: z.Round(4), Method: anomalyMethodZScore}
	switch absZ := z.Abs(); {
	case absZ.GreaterThan(decimal.NewFromInt(3)):
		verdict.Severity = models.SeverityHigh
	case absZ.GreaterThan(decimal.NewFromInt(2)):
		verdict.Severity = models.SeverityMedium
	default:
		verdict.Severity = models.SeverityNone
	}
	return verdict
}

func pctChangeVerdict(history []decimal.Decimal, current decimal.Decimal) AnomalyVerdict {
	verdict := AnomalyVerdict{Method: anomalyMethodPctChange, Severity: models.SeverityNone}
	if len(history) == 0 {
		return verdict
	}
	prior := history[len(history)-1]
	verdict.Mean = prior
	if prior.IsZero() {
		if !current.IsZero() {
			verdict.Severity = models.SeverityHigh
		}
		return verdict
	}
	change := current.Sub(prior).Div(prior.Abs())
	switch absChange := change.Abs(); {
	case absChange.GreaterThan(decimal.NewFromFloat(0.5)):
		verdict.Severity = models.SeverityHigh
	case absChange.GreaterThan(decimal.NewFromFloat(0.25)):
		verdict.Severity = models.SeverityMedium
	}
	return verdict
}

// meanStddev computes the trailing mean and sample standard deviation.
// Stddev goes through float64 (decimal has no sqrt); four decimal places is
// plenty for a z denominator.
func meanStddev(values []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(values)))
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	mean := sum.Div(n)

	if len(values) < 2 {
		return mean, decimal.Zero
	}

	sumSquares := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sumSquares = sumSquares.Add(d.Mul(d))
	}
	varianceFloat, _ := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1))).Float64()
	return mean, decimal.NewFromFloat(math.Sqrt(varianceFloat)).Round(4)
}

// ScanFields evaluates the named fields for one property/period and
// replaces any prior anomaly records for them. Missing fields are recorded
// as errors but do not abort the scan of the remaining fields.
func (d *AnomalyDetector) ScanFields(ctx context.Context, propertyId int, periodId string, fields []string) ([]models.AnomalyRecord, error) {
	db := config.GetDB()
	snap, err := BuildSnapshot(ctx, propertyId, periodId)
	if err != nil {
		return nil, err
	}

	var records []models.AnomalyRecord
	for _, field := range fields {
		current, ok := lookupFieldValue(snap, field)
		if !ok {
			config.LogError(d.logger, "anomaly.go", "ScanFields", "field absent for period", field,
				fmt.Errorf("%w: %s", utils.ErrInputDataMissing, field))
			continue
		}

		history, err := models.GetFieldHistory(ctx, propertyId, field, periodId, d.cfg.AnomalyWindow)
		if err != nil {
			return nil, err
		}

		verdict := EvaluateSeries(history, current, d.cfg)
		records = append(records, models.AnomalyRecord{
			PropertyId:     propertyId,
			PeriodId:       periodId,
			FieldName:      field,
			Value:          current,
			BaselineMean:   verdict.Mean,
			BaselineStddev: verdict.Stddev,
			ZScore:         verdict.ZScore,
			Severity:       verdict.Severity,
			Method:         verdict.Method,
		})
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("property_id = ? AND period_id = ? AND field_name IN ?", propertyId, periodId, fields).
			Delete(&models.AnomalyRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// lookupFieldValue searches all document types in fixed order for the named
// account; the first hit wins.
func lookupFieldValue(snap *Snapshot, field string) (decimal.Decimal, bool) {
	for _, docType := range snap.DocumentTypes() {
		if item, ok := snap.Lookup(docType, field); ok {
			return item.Amount, true
		}
	}
	return decimal.Zero, false
}
