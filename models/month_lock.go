package models

import (
	"time"
)

// MonthLock freezes workflow changes for a project's invoiced month
type MonthLock struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProjectID   uint      `gorm:"not null;uniqueIndex:idx_month_locks_period" json:"project_id"`
	Month       int       `gorm:"not null;uniqueIndex:idx_month_locks_period" json:"month"`
	Year        int       `gorm:"not null;uniqueIndex:idx_month_locks_period" json:"year"`
	LockedAt    time.Time `gorm:"not null" json:"locked_at"`
	LockedBy    uint      `json:"locked_by"`
	SnapshotKey *string   `json:"snapshot_key,omitempty"` // object key of the exported invoice snapshot
}

// TableName specifies the table name for the MonthLock model
func (MonthLock) TableName() string {
	return "month_locks"
}
