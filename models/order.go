package models

import (
	"time"
)

// Order is a production order moving through a project's workflow layers
type Order struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	OrderNumber     string        `gorm:"uniqueIndex;not null" json:"order_number"`
	ProjectID       uint          `gorm:"not null;index:idx_orders_queue,priority:1" json:"project_id"`
	WorkflowState   WorkflowState `gorm:"not null;index:idx_orders_queue,priority:2" json:"workflow_state"`
	Priority        string        `gorm:"not null;default:'medium'" json:"priority"`
	AssignedTo      *uint         `gorm:"uniqueIndex" json:"assigned_to"` // non-null only while IN_<layer>
	DueDate         *time.Time    `json:"due_date"`
	ClientReference string        `json:"client_reference"`
	EntryLayer      Layer         `json:"entry_layer"`

	AttemptDraw   int `gorm:"not null;default:0" json:"attempt_draw"`
	AttemptCheck  int `gorm:"not null;default:0" json:"attempt_check"`
	AttemptQA     int `gorm:"not null;default:0" json:"attempt_qa"`
	AttemptDesign int `gorm:"not null;default:0" json:"attempt_design"`
	RecheckCount  int `gorm:"not null;default:0" json:"recheck_count"`

	RejectionReason *string       `json:"rejection_reason"`
	RejectionCode   *string       `json:"rejection_code"`
	IsOnHold        bool          `gorm:"not null;default:false" json:"is_on_hold"`
	HoldReason      *string       `json:"hold_reason"`
	ResumeState     WorkflowState `json:"resume_state,omitempty"`

	ReceivedAt  time.Time  `gorm:"not null;index" json:"received_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Version   int       `gorm:"not null;default:1" json:"version"` // optimistic lock
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// Attempts returns the attempt counter for a layer
func (o *Order) Attempts(l Layer) int {
	switch l {
	case LayerDrawer:
		return o.AttemptDraw
	case LayerChecker:
		return o.AttemptCheck
	case LayerQA:
		return o.AttemptQA
	case LayerDesigner:
		return o.AttemptDesign
	}
	return 0
}

// AttemptColumn returns the column holding the attempt counter for a layer
func AttemptColumn(l Layer) string {
	switch l {
	case LayerDrawer:
		return "attempt_draw"
	case LayerChecker:
		return "attempt_check"
	case LayerQA:
		return "attempt_qa"
	case LayerDesigner:
		return "attempt_design"
	}
	return ""
}
