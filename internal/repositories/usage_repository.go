package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"formapi/internal/models"
)

// UsageRepository keeps the last successful utilization check per license
// scope so the grace window survives restarts and is shared by replicas.
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) MarkSuccess(ctx context.Context, key string, calls *models.APICalls, at time.Time) error {
	record := models.UsageRecord{
		Key:           key,
		LastSuccessAt: at.UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	columns := []string{"last_success_at", "updated_at"}
	if calls != nil {
		snapshot, err := json.Marshal(calls)
		if err != nil {
			return err
		}
		record.Snapshot = snapshot
		columns = append(columns, "snapshot")
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&record).Error
}

func (r *UsageRepository) LastSuccess(ctx context.Context, key string) (time.Time, bool, error) {
	record, err := r.Latest(ctx, key)
	if err != nil || record == nil {
		return time.Time{}, false, err
	}
	return record.LastSuccessAt, true, nil
}

// Latest returns the stored record for key, or nil when none exists.
func (r *UsageRepository) Latest(ctx context.Context, key string) (*models.UsageRecord, error) {
	var record models.UsageRecord
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
