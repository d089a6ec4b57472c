package workflow

import (
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RuleEvaluator runs every enabled rule against the snapshot. A rule that
// cannot be evaluated (missing reference, malformed formula, divide by
// zero) fails closed as UNEVALUABLE; it is never silently skipped and never
// counted as a PASS.
type RuleEvaluator struct {
	logger *logrus.Logger
}

func NewRuleEvaluator(logger *logrus.Logger) *RuleEvaluator {
	return &RuleEvaluator{logger: logger}
}

// ParseRules parses each enabled rule's formula once. Rules that fail to
// parse are returned in the second slice as ready-made UNEVALUABLE results
// so the caller still records them.
func ParseRules(rules []models.ReconciliationRule) ([]ParsedRule, []models.RuleResult) {
	var parsed []ParsedRule
	var unevaluable []models.RuleResult
	for _, rule := range rules {
		expr, err := ParseFormula(rule.Formula)
		if err != nil {
			unevaluable = append(unevaluable, ruleResultShell(rule, models.RuleResultStatusUnevaluable,
				decimal.Zero, fmt.Sprintf("formula does not parse: %v", err)))
			continue
		}
		parsed = append(parsed, ParsedRule{Rule: rule, Expr: expr})
	}
	return parsed, unevaluable
}

// Evaluate computes every parsed rule against the snapshot.
func (e *RuleEvaluator) Evaluate(parsed []ParsedRule, snap *Snapshot) []models.RuleResult {
	results := make([]models.RuleResult, 0, len(parsed))
	for _, pr := range parsed {
		results = append(results, e.evaluateOne(pr, snap))
	}
	return results
}

func (e *RuleEvaluator) evaluateOne(pr ParsedRule, snap *Snapshot) models.RuleResult {
	value, err := pr.Expr.Eval(snap)
	if err != nil {
		var unresolved *UnresolvedRefError
		detail := err.Error()
		if errors.As(err, &unresolved) {
			detail = fmt.Sprintf("missing line item %s.%s", unresolved.DocType, unresolved.Account)
		}
		return ruleResultShell(pr.Rule, models.RuleResultStatusUnevaluable, decimal.Zero, detail)
	}

	status, detail := classifyRuleValue(pr.Rule, value, pr.Expr.Refs(nil), snap)
	return ruleResultShell(pr.Rule, status, value, detail)
}

// classifyRuleValue compares |computed| against the configured tolerances.
// PASS is inclusive of the tolerance itself. With a single tolerance the
// outcome is strictly PASS or FAIL. With both configured, passing either
// suffices by default; a rule that demands both passes only when both hold
// and downgrades to WARN when exactly one does.
func classifyRuleValue(rule models.ReconciliationRule, value decimal.Decimal, refs []FormulaRef, resolver RefResolver) (models.RuleResultStatus, string) {
	abs := value.Abs()

	if !rule.HasTolerance() {
		if abs.IsZero() {
			return models.RuleResultStatusPass, ""
		}
		return models.RuleResultStatusFail, "no tolerance configured; non-zero result"
	}

	absolutePass, absoluteConfigured := false, false
	if rule.ToleranceAbsolute != nil {
		absoluteConfigured = true
		absolutePass = abs.LessThanOrEqual(*rule.ToleranceAbsolute)
	}

	percentPass, percentConfigured := false, false
	if rule.TolerancePercent != nil {
		percentConfigured = true
		if base := ruleBaseValue(refs, resolver); !base.IsZero() {
			pct := abs.Div(base.Abs()).Mul(decimal.NewFromInt(100))
			percentPass = pct.LessThanOrEqual(*rule.TolerancePercent)
		}
	}

	switch {
	case absoluteConfigured && percentConfigured && rule.RequireBothTolerances:
		if absolutePass && percentPass {
			return models.RuleResultStatusPass, ""
		}
		if absolutePass || percentPass {
			return models.RuleResultStatusWarn, "only one of two required tolerances satisfied"
		}
		return models.RuleResultStatusFail, ""
	case absoluteConfigured && percentConfigured:
		if absolutePass || percentPass {
			return models.RuleResultStatusPass, ""
		}
		return models.RuleResultStatusFail, ""
	case absoluteConfigured:
		if absolutePass {
			return models.RuleResultStatusPass, ""
		}
		return models.RuleResultStatusFail, ""
	default:
		if percentPass {
			return models.RuleResultStatusPass, ""
		}
		return models.RuleResultStatusFail, ""
	}
}

// ruleBaseValue anchors percentage tolerances to the first referenced line
// item (the left-hand side of a `ref - expr` check), falling back to zero
// when no reference resolves.
func ruleBaseValue(refs []FormulaRef, resolver RefResolver) decimal.Decimal {
	if len(refs) == 0 {
		return decimal.Zero
	}
	base, ok := resolver.ResolveRef(refs[0].DocType, refs[0].Account)
	if !ok {
		return decimal.Zero
	}
	return base
}

func ruleResultShell(rule models.ReconciliationRule, status models.RuleResultStatus, value decimal.Decimal, detail string) models.RuleResult {
	return models.RuleResult{
		RuleId:            rule.ID,
		RuleName:          rule.Name,
		Formula:           rule.Formula,
		ToleranceAbsolute: rule.ToleranceAbsolute,
		TolerancePercent:  rule.TolerancePercent,
		ComputedValue:     value,
		Status:            status,
		Detail:            detail,
	}
}
