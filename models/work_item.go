package models

import (
	"time"
)

// Work item statuses
const (
	WorkItemAssigned   = "assigned"
	WorkItemInProgress = "in_progress"
	WorkItemSubmitted  = "submitted"
	WorkItemRejected   = "rejected"
	WorkItemReassigned = "reassigned"
	WorkItemOnHold     = "on_hold"
	WorkItemResumed    = "resumed"
	WorkItemCancelled  = "cancelled"
	WorkItemQueued     = "queued"
)

// WorkItem is one append-only ledger entry for an order's stage history
type WorkItem struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrderID        uint       `gorm:"not null;index" json:"order_id"`
	Order          Order      `gorm:"foreignKey:OrderID" json:"-"`
	Stage          Layer      `gorm:"not null;index" json:"stage"`
	AssignedUserID *uint      `gorm:"index" json:"assigned_user_id"` // nil for system entries
	Status         string     `gorm:"not null;index" json:"status"`
	ReworkReason   *string    `json:"rework_reason"`
	Comment        *string    `json:"comment,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// TableName specifies the table name for the WorkItem model
func (WorkItem) TableName() string {
	return "work_items"
}

// IsOpen reports whether the item can still be closed out
func (w *WorkItem) IsOpen() bool {
	return w.Status == WorkItemAssigned || w.Status == WorkItemInProgress
}
