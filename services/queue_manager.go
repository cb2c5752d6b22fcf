package services

import (
	"context"
	"fmt"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"gorm.io/gorm"
)

// queueOrdering ranks urgent > high > medium > low, then FIFO by received_at
const queueOrdering = "CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'low' THEN 1 ELSE 2 END DESC, received_at ASC, id ASC"

// StageHealth counts the orders waiting in and being worked on one layer
type StageHealth struct {
	Queued     int64 `json:"queued"`
	InProgress int64 `json:"in_progress"`
	OnHold     int64 `json:"on_hold"`
}

// StaffingEntry is one worker holding an open work item
type StaffingEntry struct {
	UserID  uint         `json:"user_id"`
	Name    string       `json:"name"`
	Stage   models.Layer `json:"stage"`
	OrderID uint         `json:"order_id"`
	Since   time.Time    `json:"since"`
}

// QueueHealth is the derived queue snapshot of a project
type QueueHealth struct {
	ProjectID uint                          `json:"project_id"`
	Stages    map[models.Layer]*StageHealth `json:"stages"`
	Staffing  []StaffingEntry               `json:"staffing"`
}

// QueueManager derives per-project, per-layer queues from order state.
// Nothing is persisted, so queues cannot drift from the orders table.
type QueueManager struct {
	db     *gorm.DB
	ledger *Ledger
}

// NewQueueManager creates a new queue manager
func NewQueueManager(db *gorm.DB, ledger *Ledger) *QueueManager {
	return &QueueManager{db: db, ledger: ledger}
}

// Candidates returns up to limit queued orders in draw order
func (q *QueueManager) Candidates(ctx context.Context, projectID uint, layer models.Layer, limit int) ([]models.Order, error) {
	if !layer.Valid() {
		return nil, newError(CodeInvalidLayer, "unknown layer %q", layer)
	}
	if limit <= 0 {
		limit = 1
	}
	var orders []models.Order
	if err := q.db.WithContext(ctx).
		Where("project_id = ? AND workflow_state = ? AND is_on_hold = ?", projectID, layer.QueuedState(), false).
		Order(queueOrdering).
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	return orders, nil
}

// PeekNext returns the order start would claim next without reserving it
func (q *QueueManager) PeekNext(ctx context.Context, projectID uint, layer models.Layer) (*models.Order, error) {
	orders, err := q.Candidates(ctx, projectID, layer, 1)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

type stateCount struct {
	WorkflowState models.WorkflowState
	ResumeState   models.WorkflowState
	Total         int64
}

// QueueHealth aggregates queued, in-progress and held counts per configured layer
func (q *QueueManager) QueueHealth(ctx context.Context, projectID uint) (*QueueHealth, error) {
	project, err := findProject(ctx, q.db, projectID)
	if err != nil {
		return nil, err
	}

	health := &QueueHealth{
		ProjectID: project.ID,
		Stages:    make(map[models.Layer]*StageHealth, len(project.WorkflowLayers)),
		Staffing:  []StaffingEntry{},
	}
	for _, layer := range project.WorkflowLayers {
		health.Stages[layer] = &StageHealth{}
	}

	var counts []stateCount
	if err := q.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("workflow_state, resume_state, COUNT(*) AS total").
		Where("project_id = ?", projectID).
		Group("workflow_state, resume_state").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	for _, c := range counts {
		if layer, ok := models.LayerOfQueued(c.WorkflowState); ok {
			stageFor(health, layer).Queued += c.Total
			continue
		}
		if layer, ok := models.LayerOfActive(c.WorkflowState); ok {
			stageFor(health, layer).InProgress += c.Total
			continue
		}
		if c.WorkflowState == models.StateOnHold {
			if layer, ok := layerOfState(c.ResumeState); ok {
				stageFor(health, layer).OnHold += c.Total
			}
		}
	}

	items, err := q.ledger.OpenItemsForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	names, err := q.userNames(ctx, items)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.AssignedUserID == nil {
			continue
		}
		health.Staffing = append(health.Staffing, StaffingEntry{
			UserID:  *item.AssignedUserID,
			Name:    names[*item.AssignedUserID],
			Stage:   item.Stage,
			OrderID: item.OrderID,
			Since:   item.CreatedAt,
		})
	}

	return health, nil
}

func (q *QueueManager) userNames(ctx context.Context, items []models.WorkItem) (map[uint]string, error) {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		if item.AssignedUserID != nil {
			ids = append(ids, *item.AssignedUserID)
		}
	}
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []models.User
	if err := q.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// stageFor returns the stage bucket, adding one for layers no longer configured
func stageFor(health *QueueHealth, layer models.Layer) *StageHealth {
	stage, ok := health.Stages[layer]
	if !ok {
		stage = &StageHealth{}
		health.Stages[layer] = stage
	}
	return stage
}

// layerOfState returns the layer a queued or active state belongs to
func layerOfState(s models.WorkflowState) (models.Layer, bool) {
	if layer, ok := models.LayerOfQueued(s); ok {
		return layer, true
	}
	return models.LayerOfActive(s)
}
