package workflow

import (
	"context"
	"sort"
	"sync"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/sirupsen/logrus"
)

// RunOptions toggles individual matchers for one run.
type RunOptions struct {
	UseRules      bool `json:"use_rules"`
	UseExact      bool `json:"use_exact"`
	UseCalculated bool `json:"use_calculated"`
	UseFuzzy      bool `json:"use_fuzzy"`
	UseInferred   bool `json:"use_inferred"`
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		UseRules:      true,
		UseExact:      true,
		UseCalculated: true,
		UseFuzzy:      true,
		UseInferred:   true,
	}
}

// MatchingEngine fans matchers out over an immutable snapshot and merges
// their proposals with a fixed priority order.
type MatchingEngine struct {
	matchers []Matcher
	logger   *logrus.Logger
}

// NewMatchingEngine builds the matcher list ordered by MatchPriority:
// rule > exact > calculated > fuzzy > inferred.
func NewMatchingEngine(cfg config.ReconcileConfig, mappings []models.AccountMapping, rules []ParsedRule, opts RunOptions, logger *logrus.Logger) *MatchingEngine {
	var matchers []Matcher
	if opts.UseRules {
		matchers = append(matchers, &RuleBasedMatcher{Mappings: mappings})
	}
	if opts.UseExact {
		matchers = append(matchers, &ExactMatcher{AmountTolerance: cfg.ExactAmountTolerance})
	}
	if opts.UseCalculated {
		matchers = append(matchers, &CalculatedMatcher{Rules: rules})
	}
	if opts.UseFuzzy {
		matchers = append(matchers, &FuzzyMatcher{
			MinSimilarity: cfg.FuzzyMinSimilarity,
			MaxAmountPct:  cfg.FuzzyMaxAmountPct,
		})
	}
	if opts.UseInferred {
		matchers = append(matchers, &InferredMatcher{AmountTolerance: cfg.ExactAmountTolerance})
	}
	sort.SliceStable(matchers, func(i, j int) bool {
		return matchers[i].MatchType().MatchPriority() > matchers[j].MatchType().MatchPriority()
	})
	return &MatchingEngine{matchers: matchers, logger: logger}
}

// Run executes all matchers concurrently, then merges sequentially. The
// merge consumes matcher outputs in construction (priority) order, so the
// result never depends on goroutine completion order. A single matcher's
// failure is logged and skipped, never fatal to the run.
func (e *MatchingEngine) Run(ctx context.Context, snap *Snapshot) []MatchProposal {
	proposalSets := make([][]MatchProposal, len(e.matchers))

	var wg sync.WaitGroup
	for i, matcher := range e.matchers {
		wg.Add(1)
		go func(i int, matcher Matcher) {
			defer wg.Done()
			proposals, err := matcher.Propose(snap)
			if err != nil {
				config.LogError(e.logger, "matching.go", "Run",
					"matcher "+string(matcher.MatchType())+" failed; skipping", snap.PropertyId, err)
				return
			}
			proposalSets[i] = proposals
		}(i, matcher)
	}
	wg.Wait()

	return mergeProposals(proposalSets)
}

// mergeProposals is the deterministic tie-break reduction. At most one
// proposal survives per (source_account, target_account) pair, the same key
// the storage unique index enforces; earlier sets come from higher-priority
// matchers, so the first proposal for a pair wins. Operator mappings
// additionally suppress every automatic proposal for the same source
// account: a manual mapping is a statement about the source line, not just
// about one pairing.
func mergeProposals(proposalSets [][]MatchProposal) []MatchProposal {
	manualSources := make(map[string]bool)
	for _, set := range proposalSets {
		for _, p := range set {
			if p.Match.MatchType == models.MatchTypeRule {
				manualSources[docKey(string(p.Match.SourceDocType), p.Match.SourceAccount)] = true
			}
		}
	}

	seenPairs := make(map[string]bool)
	var merged []MatchProposal
	for _, set := range proposalSets {
		for _, p := range set {
			sourceKey := docKey(string(p.Match.SourceDocType), p.Match.SourceAccount)
			if p.Match.MatchType != models.MatchTypeRule && manualSources[sourceKey] {
				continue
			}
			pairKey := normalizeAccount(p.Match.SourceAccount) + "->" + normalizeAccount(p.Match.TargetAccount)
			if seenPairs[pairKey] {
				continue
			}
			seenPairs[pairKey] = true
			merged = append(merged, p)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i].Match, merged[j].Match
		if a.SourceDocType != b.SourceDocType {
			return a.SourceDocType < b.SourceDocType
		}
		if a.SourceAccount != b.SourceAccount {
			return a.SourceAccount < b.SourceAccount
		}
		if a.TargetDocType != b.TargetDocType {
			return a.TargetDocType < b.TargetDocType
		}
		return a.TargetAccount < b.TargetAccount
	})
	return merged
}
