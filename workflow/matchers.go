package workflow

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
	"github.com/xrash/smetrics"
)

// MatchProposal is one matcher's claim that two line items represent the
// same underlying value. ToleranceAbsolute, when set, overrides the default
// tolerance used for discrepancy banding of this pair (calculated matches
// carry their rule's tolerance).
type MatchProposal struct {
	Match             models.Match
	ToleranceAbsolute *decimal.Decimal
}

// Matcher produces proposals from a read-only snapshot. Matchers are
// stateless relative to each other; conflict resolution happens in the
// merge step only.
type Matcher interface {
	MatchType() models.MatchType
	Propose(snap *Snapshot) ([]MatchProposal, error)
}

// documentPairs is the fixed ordering of cross-document comparisons. Fixed
// order keeps proposal slices deterministic for identical snapshots.
func documentPairs(snap *Snapshot) [][2]models.DocumentType {
	types := snap.DocumentTypes()
	var pairs [][2]models.DocumentType
	for i := 0; i < len(types); i++ {
		for j := i + 1; j < len(types); j++ {
			pairs = append(pairs, [2]models.DocumentType{types[i], types[j]})
		}
	}
	return pairs
}

// ---------------------------------------------------------------------------
// RuleBasedMatcher: operator-configured account mappings. Always wins.

type RuleBasedMatcher struct {
	Mappings []models.AccountMapping
}

func (m *RuleBasedMatcher) MatchType() models.MatchType { return models.MatchTypeRule }

func (m *RuleBasedMatcher) Propose(snap *Snapshot) ([]MatchProposal, error) {
	var proposals []MatchProposal
	for _, mapping := range m.Mappings {
		source, ok := snap.Lookup(mapping.SourceDocType, mapping.SourceAccount)
		if !ok {
			continue
		}
		target, ok := snap.Lookup(mapping.TargetDocType, mapping.TargetAccount)
		if !ok {
			// The detector reports the missing counterpart; the matcher
			// only pairs values that exist.
			continue
		}
		proposals = append(proposals, MatchProposal{Match: models.Match{
			SourceDocType: source.DocumentType,
			SourceAccount: source.AccountName,
			SourceAmount:  source.Amount,
			TargetDocType: target.DocumentType,
			TargetAccount: target.AccountName,
			TargetAmount:  target.Amount,
			MatchType:     models.MatchTypeRule,
			Confidence:    decimal.NewFromInt(1),
			Status:        models.MatchStatusPending,
		}})
	}
	return proposals, nil
}

// ---------------------------------------------------------------------------
// ExactMatcher: identical account code/name with amounts within one cent
// across two documents.

type ExactMatcher struct {
	AmountTolerance decimal.Decimal
}

func (m *ExactMatcher) MatchType() models.MatchType { return models.MatchTypeExact }

func (m *ExactMatcher) Propose(snap *Snapshot) ([]MatchProposal, error) {
	var proposals []MatchProposal
	for _, pair := range documentPairs(snap) {
		for _, source := range snap.DocumentItems(pair[0]) {
			target, ok := snap.Lookup(pair[1], source.AccountName)
			if !ok && source.AccountCode != "" {
				target, ok = snap.Lookup(pair[1], source.AccountCode)
			}
			if !ok {
				continue
			}
			if source.Amount.Sub(target.Amount).Abs().GreaterThan(m.AmountTolerance) {
				continue
			}
			proposals = append(proposals, MatchProposal{Match: models.Match{
				SourceDocType: source.DocumentType,
				SourceAccount: source.AccountName,
				SourceAmount:  source.Amount,
				TargetDocType: target.DocumentType,
				TargetAccount: target.AccountName,
				TargetAmount:  target.Amount,
				MatchType:     models.MatchTypeExact,
				Confidence:    decimal.NewFromFloat(0.99),
				Status:        models.MatchStatusPending,
			}})
		}
	}
	return proposals, nil
}

// ---------------------------------------------------------------------------
// CalculatedMatcher: rules whose formula has the shape
//
//	Doc.Account - (expression)
//
// pair the referenced line item (actual) against the computed expression
// value (expected). Scenario: extracted NOI vs income-minus-expense.

type CalculatedMatcher struct {
	Rules []ParsedRule
}

// ParsedRule carries a rule with its parsed expression tree. Parsing happens
// once per run in the engine; malformed rules are excluded here and recorded
// as UNEVALUABLE by the rule evaluator.
type ParsedRule struct {
	Rule models.ReconciliationRule
	Expr FormulaExpr
}

func (m *CalculatedMatcher) MatchType() models.MatchType { return models.MatchTypeCalculated }

func (m *CalculatedMatcher) Propose(snap *Snapshot) ([]MatchProposal, error) {
	var proposals []MatchProposal
	for _, parsed := range m.Rules {
		target, expected, ok := calculatedPair(parsed.Expr, snap)
		if !ok {
			continue
		}
		item, found := snap.Lookup(models.DocumentType(target.DocType), target.Account)
		if !found {
			continue
		}
		proposals = append(proposals, MatchProposal{
			Match: models.Match{
				SourceDocType: item.DocumentType,
				SourceAccount: item.AccountName,
				SourceAmount:  item.Amount,
				TargetDocType: item.DocumentType,
				TargetAccount: fmt.Sprintf("%s (calculated)", parsed.Rule.Name),
				TargetAmount:  expected,
				MatchType:     models.MatchTypeCalculated,
				Confidence:    decimal.NewFromFloat(0.95),
				Status:        models.MatchStatusPending,
			},
			ToleranceAbsolute: parsed.Rule.ToleranceAbsolute,
		})
	}
	return proposals, nil
}

// calculatedPair recognizes the `ref - (expr)` shape and evaluates the
// expected side. Rules with a different shape (pure balance checks) are
// still evaluated by the rule evaluator, they just don't produce matches.
func calculatedPair(expr FormulaExpr, snap *Snapshot) (FormulaRef, decimal.Decimal, bool) {
	bin, ok := expr.(binaryExpr)
	if !ok || bin.op != '-' {
		return FormulaRef{}, decimal.Zero, false
	}
	ref, ok := bin.left.(refExpr)
	if !ok {
		return FormulaRef{}, decimal.Zero, false
	}
	expected, err := bin.right.Eval(snap)
	if err != nil {
		return FormulaRef{}, decimal.Zero, false
	}
	return FormulaRef{DocType: ref.docType, Account: ref.account}, expected, true
}

// ---------------------------------------------------------------------------
// FuzzyMatcher: string similarity on account names combined with relative
// amount closeness.

type FuzzyMatcher struct {
	MinSimilarity float64
	MaxAmountPct  decimal.Decimal
}

func (m *FuzzyMatcher) MatchType() models.MatchType { return models.MatchTypeFuzzy }

func (m *FuzzyMatcher) Propose(snap *Snapshot) ([]MatchProposal, error) {
	var proposals []MatchProposal
	for _, pair := range documentPairs(snap) {
		for _, source := range snap.DocumentItems(pair[0]) {
			best, bestSim := m.bestCandidate(source, snap.DocumentItems(pair[1]))
			if best == nil {
				continue
			}
			proposals = append(proposals, MatchProposal{Match: models.Match{
				SourceDocType: source.DocumentType,
				SourceAccount: source.AccountName,
				SourceAmount:  source.Amount,
				TargetDocType: best.DocumentType,
				TargetAccount: best.AccountName,
				TargetAmount:  best.Amount,
				MatchType:     models.MatchTypeFuzzy,
				Confidence:    decimal.NewFromFloat(bestSim).Round(4),
				Status:        models.MatchStatusPending,
			}})
		}
	}
	return proposals, nil
}

func (m *FuzzyMatcher) bestCandidate(source *models.LineItem, candidates []*models.LineItem) (*models.LineItem, float64) {
	var best *models.LineItem
	var bestSim float64
	for _, candidate := range candidates {
		sim := NameSimilarity(source.AccountName, candidate.AccountName)
		if sim < m.MinSimilarity {
			continue
		}
		if !amountsClose(source.Amount, candidate.Amount, m.MaxAmountPct) {
			continue
		}
		if sim > bestSim {
			best, bestSim = candidate, sim
		}
	}
	return best, bestSim
}

// NameSimilarity blends a normalized Levenshtein ratio with Jaro-Winkler.
// Jaro-Winkler is kinder to abbreviated account names ("Accts Receivable"),
// Levenshtein to long descriptions; taking the max keeps both families
// above the 0.85 bar when either metric is confident.
func NameSimilarity(a, b string) float64 {
	na, nb := normalizeAccount(a), normalizeAccount(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	lev := 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(maxLen)
	jw := smetrics.JaroWinkler(na, nb, 0.7, 4)
	if jw > lev {
		return jw
	}
	return lev
}

func amountsClose(a, b, maxPct decimal.Decimal) bool {
	if a.IsZero() && b.IsZero() {
		return true
	}
	base := a.Abs()
	if b.Abs().GreaterThan(base) {
		base = b.Abs()
	}
	if base.IsZero() {
		return false
	}
	return a.Sub(b).Abs().Div(base).LessThanOrEqual(maxPct)
}

// ---------------------------------------------------------------------------
// InferredMatcher: account-code hierarchy roll-ups. When a source account
// has no direct counterpart, children of its code family in the target
// document are summed and compared.

type InferredMatcher struct {
	AmountTolerance decimal.Decimal
}

func (m *InferredMatcher) MatchType() models.MatchType { return models.MatchTypeInferred }

func (m *InferredMatcher) Propose(snap *Snapshot) ([]MatchProposal, error) {
	var proposals []MatchProposal
	for _, pair := range documentPairs(snap) {
		for _, source := range snap.DocumentItems(pair[0]) {
			if source.AccountCode == "" {
				continue
			}
			if _, direct := snap.Lookup(pair[1], source.AccountName); direct {
				continue
			}
			if _, direct := snap.Lookup(pair[1], source.AccountCode); direct {
				continue
			}

			children := childAccounts(source.AccountCode, snap.DocumentItems(pair[1]))
			if len(children) < 2 {
				continue
			}
			sum := decimal.Zero
			for _, child := range children {
				sum = sum.Add(child.Amount)
			}
			if source.Amount.Sub(sum).Abs().GreaterThan(m.AmountTolerance) {
				continue
			}
			proposals = append(proposals, MatchProposal{Match: models.Match{
				SourceDocType: source.DocumentType,
				SourceAccount: source.AccountName,
				SourceAmount:  source.Amount,
				TargetDocType: pair[1],
				TargetAccount: fmt.Sprintf("%s (roll-up of %d accounts)", source.AccountCode, len(children)),
				TargetAmount:  sum,
				MatchType:     models.MatchTypeInferred,
				Confidence:    decimal.NewFromFloat(0.7),
				Status:        models.MatchStatusPending,
			}})
		}
	}
	return proposals, nil
}

// childAccounts selects target-document items whose code sits directly
// under the parent code ("4000" -> "4000-10", "4000.20"). Subtotal and
// total rows are excluded from the roll-up sum.
func childAccounts(parentCode string, items []*models.LineItem) []*models.LineItem {
	var children []*models.LineItem
	for _, item := range items {
		if item.IsSubtotal || item.IsTotal || item.AccountCode == "" {
			continue
		}
		if item.AccountCode == parentCode {
			continue
		}
		rest, ok := strings.CutPrefix(item.AccountCode, parentCode)
		if !ok || rest == "" {
			continue
		}
		switch rest[0] {
		case '-', '.', ':':
			children = append(children, item)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].AccountCode < children[j].AccountCode })
	return children
}
