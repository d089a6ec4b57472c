package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// Exactly one RUNNING session is permitted per (property, period). The
// redis lease is a fast-path rejection across instances; the MySQL advisory
// lock is authoritative so correctness never depends on redis being up.

func runLockName(propertyId int, periodId string) string {
	return fmt.Sprintf("recon:%d:%s", propertyId, periodId)
}

// In-process guard: two goroutines on the same instance must not both reach
// the external locks for the same (property, period).
var (
	localRunMu sync.Mutex
	localRuns  = map[string]bool{}
)

func acquireLocalRun(propertyId int, periodId string) bool {
	name := runLockName(propertyId, periodId)
	localRunMu.Lock()
	defer localRunMu.Unlock()
	if localRuns[name] {
		return false
	}
	localRuns[name] = true
	return true
}

func releaseLocalRun(propertyId int, periodId string) {
	localRunMu.Lock()
	defer localRunMu.Unlock()
	delete(localRuns, runLockName(propertyId, periodId))
}

// AcquireRunLease takes the cross-instance redis lease for a run. A nil
// lease is returned when redis is not connected; callers must still hold
// the advisory lock.
func AcquireRunLease(ctx context.Context, propertyId int, periodId string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, runLockName(propertyId, periodId), ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, utils.ErrConcurrentRunConflict
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func ReleaseRunLease(ctx context.Context, lease *redislock.Lock) {
	if lease == nil {
		return
	}
	_ = lease.Release(ctx)
}

// RefreshRunLease extends the lease TTL at stage boundaries so it outlives
// a run longer than one TTL. Best effort, like the lease itself.
func RefreshRunLease(ctx context.Context, lease *redislock.Lock, ttl time.Duration) {
	if lease == nil {
		return
	}
	_ = lease.Refresh(ctx, ttl, nil)
}

// AcquireRunLock serializes runs per (property, period) across instances
// using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB session that will release it.
func AcquireRunLock(tx *gorm.DB, propertyId int, periodId string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 0)", runLockName(propertyId, periodId)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.ErrConcurrentRunConflict
	}
	return nil
}

func ReleaseRunLock(tx *gorm.DB, propertyId int, periodId string) {
	var released int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", runLockName(propertyId, periodId)).Scan(&released).Error
}
