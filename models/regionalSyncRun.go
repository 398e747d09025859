package models

import (
	"context"
	"errors"
	"time"

	"github.com/seplag/regional_sync/utils"
	"gorm.io/gorm"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusPartial = "partial"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusSkipped = "skipped"
)

const (
	SyncTriggeredSystem  = "system"
	SyncTriggeredManual  = "manual"
	SyncTriggeredStartup = "startup"
	SyncTriggeredCLI     = "cli"
	SyncTriggeredPubSub  = "pubsub"
)

// RegionalSyncRun is the history row written for every reconciliation cycle.
type RegionalSyncRun struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	Status           string     `gorm:"index;size:20;not null" json:"status"`
	TriggeredBy      string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId    string     `gorm:"size:64" json:"correlation_id"`
	RequestedBy      string     `gorm:"size:64" json:"requested_by,omitempty"`
	ExternalCount    int        `json:"external_count"`
	DiscardedCount   int        `json:"discarded_count"`
	CreatedCount     int        `json:"created_count"`
	DeactivatedCount int        `json:"deactivated_count"`
	UnchangedCount   int        `json:"unchanged_count"`
	ErrorCount       int        `json:"error_count"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message"`
	StartedAt        *time.Time `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	DurationMs       int64      `json:"duration_ms"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunStore persists RegionalSyncRun rows.
type SyncRunStore struct {
	db *gorm.DB
}

func NewSyncRunStore(db *gorm.DB) *SyncRunStore {
	return &SyncRunStore{db: db}
}

func (s *SyncRunStore) CreateRun(ctx context.Context, run *RegionalSyncRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *SyncRunStore) FinishRun(ctx context.Context, run *RegionalSyncRun) error {
	return s.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":            run.Status,
		"external_count":    run.ExternalCount,
		"discarded_count":   run.DiscardedCount,
		"created_count":     run.CreatedCount,
		"deactivated_count": run.DeactivatedCount,
		"unchanged_count":   run.UnchangedCount,
		"error_count":       run.ErrorCount,
		"error_message":     run.ErrorMessage,
		"finished_at":       run.FinishedAt,
		"duration_ms":       run.DurationMs,
	}).Error
}

// ListRuns returns the most recent runs first.
func (s *SyncRunStore) ListRuns(ctx context.Context, limit int) ([]RegionalSyncRun, error) {
	runs := []RegionalSyncRun{}
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *SyncRunStore) GetRun(ctx context.Context, id uint) (*RegionalSyncRun, error) {
	var run RegionalSyncRun
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}
