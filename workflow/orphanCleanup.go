package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/sirupsen/logrus"
)

// CleanupOrphanedSessions fails RUNNING sessions whose worker died without
// transitioning them (crash, OOM, instance shutdown). The advisory lock
// dies with the worker's connection, so a stale RUNNING row is the only
// leftover to repair. Intended to run on a schedule and at startup.
func CleanupOrphanedSessions(ctx context.Context, timeout time.Duration) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	cutoff := time.Now().UTC().Add(-timeout)

	var orphans []models.ReconciliationSession
	if err := db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", models.SessionStateRunning, cutoff).
		Find(&orphans).Error; err != nil {
		return 0, err
	}

	cleaned := 0
	for i := range orphans {
		session := &orphans[i]
		if err := session.Transition(db, models.SessionStateFailed, "orphaned: run exceeded cleanup timeout without completing"); err != nil {
			// Raced with a live worker finishing; skip, the guarded UPDATE
			// already protected the row.
			config.LogError(logger, "orphanCleanup.go", "CleanupOrphanedSessions", "failing orphaned session", session.ID, err)
			continue
		}
		cleaned++
		logger.WithFields(logrus.Fields{
			"session_id":  session.ID,
			"property_id": session.PropertyId,
			"period_id":   session.PeriodId,
		}).Warn("orphaned RUNNING session marked FAILED")
	}
	return cleaned, nil
}
