package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"gorm.io/gorm"
)

// ReconciliationSession is one reconciliation attempt for a property/period.
// Re-running creates a fresh session; prior sessions and their result rows
// are retained for history and never mutated.
type ReconciliationSession struct {
	ID            int          `gorm:"primary_key" json:"id"`
	PropertyId    int          `gorm:"index:idx_sessions_prop_period;not null" json:"property_id"`
	PeriodId      string       `gorm:"size:20;index:idx_sessions_prop_period;not null" json:"period_id"`
	State         SessionState `gorm:"size:20;index;not null" json:"state"`
	ErrorReason   string       `gorm:"size:500" json:"error_reason"`
	CorrelationId string       `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt     *time.Time   `json:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at"`
}

// sessionTransitions is the authoritative state machine. Anything not listed
// here is an illegal transition and is rejected before touching the row.
var sessionTransitions = map[SessionState][]SessionState{
	SessionStateCreated:   {SessionStateRunning, SessionStateFailed},
	SessionStateRunning:   {SessionStateCompleted, SessionStateFailed},
	SessionStateCompleted: {SessionStateRunning, SessionStateValidated},
	SessionStateValidated: {SessionStateValidated},
	SessionStateFailed:    {},
}

func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the session to the next state with a guarded UPDATE: the
// WHERE clause re-checks the current state so two workers can never both win
// the same transition.
func (s *ReconciliationSession) Transition(tx *gorm.DB, next SessionState, reason string) error {
	if !s.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.State, next)
	}

	updates := map[string]interface{}{"state": next, "error_reason": reason}
	now := time.Now().UTC()
	switch next {
	case SessionStateRunning:
		updates["started_at"] = &now
		updates["completed_at"] = nil
	case SessionStateCompleted, SessionStateFailed:
		updates["completed_at"] = &now
	}

	res := tx.Model(&ReconciliationSession{}).
		Where("id = ? AND state = ?", s.ID, s.State).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %d no longer in state %s", s.ID, s.State)
	}

	s.State = next
	s.ErrorReason = reason
	switch next {
	case SessionStateRunning:
		s.StartedAt = &now
		s.CompletedAt = nil
	case SessionStateCompleted, SessionStateFailed:
		s.CompletedAt = &now
	}
	return nil
}

func CreateSession(ctx context.Context, propertyId int, periodId string, correlationId string) (*ReconciliationSession, error) {
	db := config.GetDB()
	session := ReconciliationSession{
		PropertyId:    propertyId,
		PeriodId:      periodId,
		State:         SessionStateCreated,
		CorrelationId: correlationId,
	}
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func GetSessionById(ctx context.Context, id int) (*ReconciliationSession, error) {
	db := config.GetDB()
	var session ReconciliationSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// HasRunningSession reports whether any other session is RUNNING for the
// property/period. Used as a pre-check; the advisory lock is authoritative.
func HasRunningSession(ctx context.Context, propertyId int, periodId string, excludeSessionId int) (bool, error) {
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&ReconciliationSession{}).
		Where("property_id = ? AND period_id = ? AND state = ? AND id <> ?",
			propertyId, periodId, SessionStateRunning, excludeSessionId).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
