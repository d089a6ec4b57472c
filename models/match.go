package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Match pairs two semantically equivalent line items from different
// documents. At most one match may exist per (session, source, target) pair;
// the unique index backs the merge-step invariant.
type Match struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SessionId     int             `gorm:"index;not null;uniqueIndex:uniq_match_pair" json:"session_id"`
	SourceDocType DocumentType    `gorm:"size:30;not null" json:"source_doc_type"`
	SourceAccount string          `gorm:"size:255;not null;uniqueIndex:uniq_match_pair" json:"source_account"`
	SourceAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"source_amount"`
	TargetDocType DocumentType    `gorm:"size:30;not null" json:"target_doc_type"`
	TargetAccount string          `gorm:"size:255;not null;uniqueIndex:uniq_match_pair" json:"target_account"`
	TargetAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"target_amount"`
	MatchType     MatchType       `gorm:"size:20;index;not null" json:"match_type"`
	Confidence    decimal.Decimal `gorm:"type:decimal(5,4);default:0" json:"confidence"`
	Status        MatchStatus     `gorm:"size:20;index;not null;default:pending" json:"status"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetMatchesBySession(ctx context.Context, sessionId int) ([]Match, error) {
	db := config.GetDB()
	var matches []Match
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("source_doc_type, source_account, target_doc_type, target_account").
		Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

// UpdateMatchStatus records a reviewer's approve/reject verdict. Review
// touches only the status column; match pairings themselves are immutable
// per session.
func UpdateMatchStatus(ctx context.Context, matchId int, status MatchStatus) (*Match, error) {
	db := config.GetDB()
	var match Match
	if err := db.WithContext(ctx).First(&match, matchId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&match).Update("status", status).Error; err != nil {
		return nil, err
	}
	match.Status = status
	return &match, nil
}
