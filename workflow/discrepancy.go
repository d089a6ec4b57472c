package workflow

import (
	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/shopspring/decimal"
)

// DiscrepancyDetector turns matched pairs and operator mappings into
// discrepancy rows. Severity is a pure function of |variance| against the
// pair's applicable tolerance (models.BandSeverity).
type DiscrepancyDetector struct {
	cfg config.ReconcileConfig
}

func NewDiscrepancyDetector(cfg config.ReconcileConfig) *DiscrepancyDetector {
	return &DiscrepancyDetector{cfg: cfg}
}

// Detect inspects every matched pair plus every operator mapping whose
// counterpart is absent from the snapshot. Pairs with zero variance produce
// no row; missing counterparts are always high severity and marked so
// reviewers can tell "couldn't check" from "checked and wrong".
func (d *DiscrepancyDetector) Detect(proposals []MatchProposal, mappings []models.AccountMapping, snap *Snapshot) []models.Discrepancy {
	var discrepancies []models.Discrepancy

	for _, p := range proposals {
		expected := p.Match.TargetAmount
		actual := p.Match.SourceAmount
		variance := actual.Sub(expected)
		if variance.IsZero() {
			continue
		}

		discrepancies = append(discrepancies, models.Discrepancy{
			SourceDocType:  p.Match.SourceDocType,
			SourceAccount:  p.Match.SourceAccount,
			TargetDocType:  p.Match.TargetDocType,
			TargetAccount:  p.Match.TargetAccount,
			ExpectedValue:  expected,
			ActualValue:    actual,
			VarianceAmount: variance,
			VariancePct:    variancePct(variance, expected),
			Severity:       models.BandSeverity(variance, d.pairTolerance(p)),
		})
	}

	for _, mapping := range mappings {
		source, sourceOk := snap.Lookup(mapping.SourceDocType, mapping.SourceAccount)
		target, targetOk := snap.Lookup(mapping.TargetDocType, mapping.TargetAccount)
		if sourceOk == targetOk {
			// both present (matched above) or both absent (nothing to say)
			continue
		}

		// The surviving side keeps its column: source is the actual value,
		// target the expected one, and variance stays actual minus expected.
		row := models.Discrepancy{
			SourceDocType:      mapping.SourceDocType,
			SourceAccount:      mapping.SourceAccount,
			TargetDocType:      mapping.TargetDocType,
			TargetAccount:      mapping.TargetAccount,
			Severity:           models.SeverityHigh,
			MissingCounterpart: true,
		}
		if sourceOk {
			row.ActualValue = source.Amount
			row.VarianceAmount = source.Amount
		} else {
			row.ExpectedValue = target.Amount
			row.VarianceAmount = decimal.Zero.Sub(target.Amount)
		}
		discrepancies = append(discrepancies, row)
	}

	return discrepancies
}

// pairTolerance picks the tolerance that governed the pairing: calculated
// matches carry their rule's absolute tolerance; fuzzy matches were admitted
// by relative closeness, so their band scales with the expected value;
// everything else uses the cent-level exact tolerance.
func (d *DiscrepancyDetector) pairTolerance(p MatchProposal) decimal.Decimal {
	if p.ToleranceAbsolute != nil {
		return *p.ToleranceAbsolute
	}
	if p.Match.MatchType == models.MatchTypeFuzzy {
		scaled := p.Match.TargetAmount.Abs().Mul(d.cfg.FuzzyMaxAmountPct)
		if scaled.GreaterThan(d.cfg.ExactAmountTolerance) {
			return scaled
		}
	}
	return d.cfg.ExactAmountTolerance
}

// variancePct is nil when expected is zero: percentage of nothing is
// undefined and must be flagged rather than faked as 0 or infinity.
func variancePct(variance, expected decimal.Decimal) *decimal.Decimal {
	if expected.IsZero() {
		return nil
	}
	pct := variance.Div(expected.Abs()).Mul(decimal.NewFromInt(100)).Round(4)
	return &pct
}
