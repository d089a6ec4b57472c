package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// cancelRegistry maps in-flight session ids to their cancel funcs so the
// API can cancel a run. Cancellation is honored between stages only.
var (
	cancelMu       sync.Mutex
	cancelRegistry = map[int]context.CancelFunc{}
)

func registerCancel(sessionId int, cancel context.CancelFunc) {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	cancelRegistry[sessionId] = cancel
}

func unregisterCancel(sessionId int) {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	delete(cancelRegistry, sessionId)
}

// CancelReconciliation requests cancellation of an in-flight run on this
// instance. Returns false when no run for the session is in flight here.
func CancelReconciliation(sessionId int) bool {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	cancel, ok := cancelRegistry[sessionId]
	if ok {
		cancel()
	}
	return ok
}

// RunReconciliation executes one reconciliation run end to end:
//
//	snapshot -> matchers -> merge -> discrepancies + rules -> score -> write
//
// The result set is written in a single transaction together with the
// COMPLETED transition, so readers never observe a half-written run. Any
// prior result rows of the same session are replaced in that same
// transaction (re-run semantics).
func RunReconciliation(ctx context.Context, sessionId int, opts RunOptions) error {
	db := config.GetDB()
	logger := config.GetLogger()
	cfg := config.ReconcileSettings()

	session, err := models.GetSessionById(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.State != models.SessionStateCreated && session.State != models.SessionStateCompleted {
		return fmt.Errorf("session %d cannot run from state %s", session.ID, session.State)
	}

	if !acquireLocalRun(session.PropertyId, session.PeriodId) {
		return utils.ErrConcurrentRunConflict
	}
	defer releaseLocalRun(session.PropertyId, session.PeriodId)

	// Redis lease: cross-instance fast path. Best effort only; the MySQL
	// advisory lock below is the authority.
	lease, err := AcquireRunLease(ctx, session.PropertyId, session.PeriodId, cfg.LockTTL)
	if err != nil {
		return err
	}
	defer ReleaseRunLease(context.Background(), lease)

	// Pin one connection for the advisory lock so it is held for the whole
	// run and released on the same connection.
	return db.Connection(func(lockConn *gorm.DB) error {
		if err := AcquireRunLock(lockConn, session.PropertyId, session.PeriodId); err != nil {
			return err
		}
		defer ReleaseRunLock(lockConn, session.PropertyId, session.PeriodId)

		running, err := models.HasRunningSession(ctx, session.PropertyId, session.PeriodId, session.ID)
		if err != nil {
			return err
		}
		if running {
			return utils.ErrConcurrentRunConflict
		}

		if err := session.Transition(db, models.SessionStateRunning, ""); err != nil {
			return err
		}

		runCtx, cancel := context.WithTimeout(ctx, cfg.MaxRunDuration)
		defer cancel()
		registerCancel(session.ID, cancel)
		defer unregisterCancel(session.ID)

		if err := executeRun(runCtx, session, opts, cfg, lease, logger); err != nil {
			failSession(db, logger, session, runCtx, err)
			return err
		}
		return nil
	})
}

// failSession transitions to FAILED with a reason a reviewer can read.
// Cancellation and timeout are reported as such, not as internal errors.
func failSession(db *gorm.DB, logger *logrus.Logger, session *models.ReconciliationSession, runCtx context.Context, cause error) {
	reason := cause.Error()
	switch {
	case errors.Is(runCtx.Err(), context.Canceled):
		reason = "cancelled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		reason = "exceeded maximum run duration"
	}
	if err := session.Transition(db, models.SessionStateFailed, reason); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "failSession", "marking session FAILED", session.ID, err)
	}
}

func executeRun(ctx context.Context, session *models.ReconciliationSession, opts RunOptions, cfg config.ReconcileConfig, lease *redislock.Lock, logger *logrus.Logger) error {
	db := config.GetDB()
	started := time.Now()

	// checkpoint enforces the between-stages cancellation contract and keeps
	// the cross-instance lease alive for the next stage.
	checkpoint := func(stage string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run stopped before %s: %w", stage, err)
		}
		RefreshRunLease(ctx, lease, cfg.LockTTL)
		return nil
	}
	log := logger.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"property_id":    session.PropertyId,
		"period_id":      session.PeriodId,
		"correlation_id": session.CorrelationId,
	})

	// Stage 1: snapshot.
	if err := checkpoint("snapshot"); err != nil {
		return err
	}
	snap, err := BuildSnapshot(ctx, session.PropertyId, session.PeriodId)
	if err != nil {
		return fmt.Errorf("loading line item snapshot: %w", err)
	}
	if len(snap.Items) == 0 {
		return fmt.Errorf("%w: no line items for property %d period %s",
			utils.ErrInputDataMissing, session.PropertyId, session.PeriodId)
	}

	mappings, err := models.GetEnabledAccountMappings(ctx)
	if err != nil {
		return fmt.Errorf("loading account mappings: %w", err)
	}
	rules, err := models.GetEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	parsedRules, unevaluableResults := ParseRules(rules)
	log.WithFields(logrus.Fields{
		"line_items": len(snap.Items),
		"rules":      len(rules),
		"mappings":   len(mappings),
	}).Info("snapshot loaded")

	// Stage 2: matchers (concurrent) + deterministic merge.
	if err := checkpoint("matching"); err != nil {
		return err
	}
	engine := NewMatchingEngine(cfg, mappings, parsedRules, opts, logger)
	proposals := engine.Run(ctx, snap)

	// Stage 3: discrepancies and rules evaluate in parallel; both only read
	// the snapshot and the merged proposals.
	if err := checkpoint("evaluation"); err != nil {
		return err
	}
	var (
		discrepancies []models.Discrepancy
		ruleResults   []models.RuleResult
		wg            sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		discrepancies = NewDiscrepancyDetector(cfg).Detect(proposals, mappings, snap)
	}()
	go func() {
		defer wg.Done()
		ruleResults = NewRuleEvaluator(logger).Evaluate(parsedRules, snap)
	}()
	wg.Wait()
	ruleResults = append(ruleResults, unevaluableResults...)

	// Stage 4: score.
	if err := checkpoint("scoring"); err != nil {
		return err
	}
	score, status := models.ComputeHealthScore(discrepancies, ruleResults)

	// Stage 5: one transaction writes the whole result set and completes
	// the session. No partial result set is ever visible.
	if err := checkpoint("persist"); err != nil {
		return err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceSessionResults(tx, session.ID, proposals, discrepancies, ruleResults); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Create(&models.HealthScore{
			SessionId:  session.ID,
			Score:      score,
			Status:     status,
			ComputedAt: now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.HealthScorePoint{
			PropertyId: session.PropertyId,
			PeriodId:   session.PeriodId,
			SessionId:  session.ID,
			Score:      score,
			Status:     status,
		}).Error; err != nil {
			return err
		}

		return session.Transition(tx, models.SessionStateCompleted, "")
	})
	if err != nil {
		return fmt.Errorf("persisting reconciliation results: %w", err)
	}

	invalidateHealthScoreCache(session.ID)
	log.WithFields(logrus.Fields{
		"matches":       len(proposals),
		"discrepancies": len(discrepancies),
		"rule_results":  len(ruleResults),
		"score":         score,
		"status":        status,
		"elapsed":       time.Since(started).String(),
	}).Info("reconciliation completed")
	return nil
}

// replaceSessionResults swaps the session's child rows inside the caller's
// transaction. Delete-then-insert keeps re-runs atomic: the old result set
// stays visible until commit.
func replaceSessionResults(tx *gorm.DB, sessionId int, proposals []MatchProposal, discrepancies []models.Discrepancy, ruleResults []models.RuleResult) error {
	for _, model := range []interface{}{
		&models.Match{}, &models.Discrepancy{}, &models.RuleResult{}, &models.HealthScore{},
	} {
		if err := tx.Where("session_id = ?", sessionId).Delete(model).Error; err != nil {
			return err
		}
	}

	matches := make([]models.Match, 0, len(proposals))
	for _, p := range proposals {
		m := p.Match
		m.SessionId = sessionId
		matches = append(matches, m)
	}
	if len(matches) > 0 {
		if err := tx.Create(&matches).Error; err != nil {
			return err
		}
	}

	for i := range discrepancies {
		discrepancies[i].SessionId = sessionId
	}
	if len(discrepancies) > 0 {
		if err := tx.Create(&discrepancies).Error; err != nil {
			return err
		}
	}

	for i := range ruleResults {
		ruleResults[i].SessionId = sessionId
	}
	if len(ruleResults) > 0 {
		if err := tx.Create(&ruleResults).Error; err != nil {
			return err
		}
	}
	return nil
}

// ValidateSession recomputes the health score of a COMPLETED session purely
// from its persisted rows. Matches and discrepancies are not touched;
// calling it twice is a no-op beyond the refreshed computed_at.
func ValidateSession(ctx context.Context, sessionId int) (*models.HealthScore, error) {
	db := config.GetDB()

	session, err := models.GetSessionById(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionStateCompleted && session.State != models.SessionStateValidated {
		return nil, utils.ErrValidationPrecondition
	}

	discrepancies, err := models.GetDiscrepanciesBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	ruleResults, err := models.GetRuleResultsBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	score, status := models.ComputeHealthScore(discrepancies, ruleResults)
	now := time.Now().UTC()
	healthScore := models.HealthScore{
		SessionId:  sessionId,
		Score:      score,
		Status:     status,
		ComputedAt: now,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionId).Delete(&models.HealthScore{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&healthScore).Error; err != nil {
			return err
		}
		if session.State == models.SessionStateCompleted {
			return session.Transition(tx, models.SessionStateValidated, "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateHealthScoreCache(sessionId)
	return &healthScore, nil
}

// Health-score cache: read-through redis, invalidated whenever a run or
// validation rewrites the row. DB remains the source of truth.

func healthScoreCacheKey(sessionId int) string {
	return fmt.Sprintf("healthscore:%d", sessionId)
}

func invalidateHealthScoreCache(sessionId int) {
	_ = config.RemoveRedisKey(healthScoreCacheKey(sessionId))
}

// GetHealthScore serves the score through the cache.
func GetHealthScore(ctx context.Context, sessionId int) (*models.HealthScore, error) {
	var cached models.HealthScore
	if ok, err := config.GetRedisObject(healthScoreCacheKey(sessionId), &cached); err == nil && ok {
		return &cached, nil
	}

	score, err := models.GetHealthScoreBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(healthScoreCacheKey(sessionId), score, time.Hour)
	return score, nil
}
