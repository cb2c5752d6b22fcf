package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"gorm.io/gorm"
)

// Ledger is the append-only work item history of every order
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a new work item ledger
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) withTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Append inserts a new work item. Items created in a closed status are completed immediately.
func (l *Ledger) Append(ctx context.Context, orderID uint, stage models.Layer, userID *uint, status string, reason *string) (*models.WorkItem, error) {
	return l.insert(ctx, models.WorkItem{
		OrderID:        orderID,
		Stage:          stage,
		AssignedUserID: userID,
		Status:         status,
		ReworkReason:   reason,
	})
}

func (l *Ledger) insert(ctx context.Context, item models.WorkItem) (*models.WorkItem, error) {
	now := time.Now().UTC()
	item.CreatedAt = now
	if !item.IsOpen() {
		item.CompletedAt = &now
	}
	if err := l.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to append work item: %w", err)
	}
	return &item, nil
}

// Open returns the order's open (assigned or in progress) work item, or nil
func (l *Ledger) Open(ctx context.Context, orderID uint) (*models.WorkItem, error) {
	var item models.WorkItem
	err := l.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []string{models.WorkItemAssigned, models.WorkItemInProgress}).
		Order("created_at DESC, id DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open work item: %w", err)
	}
	return &item, nil
}

// MarkInProgress moves an assigned item to in_progress
func (l *Ledger) MarkInProgress(ctx context.Context, item *models.WorkItem) error {
	if item.Status != models.WorkItemAssigned {
		return newError(CodeInvalidTransition, "work item %d is %s, not assigned", item.ID, item.Status)
	}
	return l.changeStatus(ctx, item, map[string]interface{}{"status": models.WorkItemInProgress})
}

// CloseOut finalizes an open item with status, the only in-place change a work item allows
func (l *Ledger) CloseOut(ctx context.Context, item *models.WorkItem, status string, reason, comment *string) error {
	if !item.IsOpen() {
		return newError(CodeInvalidTransition, "work item %d is already %s", item.ID, item.Status)
	}
	now := time.Now().UTC()
	values := map[string]interface{}{
		"status":       status,
		"completed_at": now,
	}
	if reason != nil {
		values["rework_reason"] = *reason
	}
	if comment != nil {
		values["comment"] = *comment
	}
	return l.changeStatus(ctx, item, values)
}

func (l *Ledger) changeStatus(ctx context.Context, item *models.WorkItem, values map[string]interface{}) error {
	res := l.db.WithContext(ctx).
		Model(&models.WorkItem{}).
		Where("id = ? AND status = ?", item.ID, item.Status).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update work item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(CodeConflict, "work item %d changed concurrently", item.ID)
	}
	return l.db.WithContext(ctx).First(item, item.ID).Error
}

// Record closes the order's open item with status, or appends a closed entry when none is open
func (l *Ledger) Record(ctx context.Context, orderID uint, stage models.Layer, userID *uint, status string, reason, comment *string) (*models.WorkItem, error) {
	open, err := l.Open(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		if err := l.CloseOut(ctx, open, status, reason, comment); err != nil {
			return nil, err
		}
		return open, nil
	}
	return l.insert(ctx, models.WorkItem{
		OrderID:        orderID,
		Stage:          stage,
		AssignedUserID: userID,
		Status:         status,
		ReworkReason:   reason,
		Comment:        comment,
	})
}

// History returns every work item of the order, oldest first
func (l *Ledger) History(ctx context.Context, orderID uint) ([]models.WorkItem, error) {
	var items []models.WorkItem
	if err := l.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load work item history: %w", err)
	}
	return items, nil
}

// CountRejected counts rejected work items; it always equals the order's recheck_count
func (l *Ledger) CountRejected(ctx context.Context, orderID uint) (int64, error) {
	var count int64
	if err := l.db.WithContext(ctx).
		Model(&models.WorkItem{}).
		Where("order_id = ? AND status = ?", orderID, models.WorkItemRejected).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rejections: %w", err)
	}
	return count, nil
}

// OpenItemsForProject returns every open work item on the project's orders
func (l *Ledger) OpenItemsForProject(ctx context.Context, projectID uint) ([]models.WorkItem, error) {
	var items []models.WorkItem
	if err := l.db.WithContext(ctx).
		Where("status IN ?", []string{models.WorkItemAssigned, models.WorkItemInProgress}).
		Where("order_id IN (?)", l.db.Model(&models.Order{}).Select("id").Where("project_id = ?", projectID)).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load open work items: %w", err)
	}
	return items, nil
}
