package models

import (
	"encoding/json"
	"time"
)

// UsageRecord is the last successful utilization check for a license scope
// (usually a primary project id).
type UsageRecord struct {
	Key           string    `gorm:"primaryKey;column:key"`
	Snapshot      []byte    `gorm:"column:snapshot;type:jsonb"`
	LastSuccessAt time.Time `gorm:"column:last_success_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// APICalls decodes the stored snapshot. A record without one yields nil.
func (u *UsageRecord) APICalls() (*APICalls, error) {
	if len(u.Snapshot) == 0 {
		return nil, nil
	}
	var calls APICalls
	if err := json.Unmarshal(u.Snapshot, &calls); err != nil {
		return nil, err
	}
	return &calls, nil
}
