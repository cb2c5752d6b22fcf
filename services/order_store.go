package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"gorm.io/gorm"
)

// TransitionCapability authorizes writes to the workflow-owned order columns.
// A store issues exactly one; the transition engine holds it.
type TransitionCapability struct {
	issuedAt time.Time
}

// protectedColumns may only change through the transition engine
var protectedColumns = map[string]bool{
	"workflow_state": true,
	"assigned_to":    true,
	"attempt_draw":   true,
	"attempt_check":  true,
	"attempt_qa":     true,
	"attempt_design": true,
	"recheck_count":  true,
	"is_on_hold":     true,
	"resume_state":   true,
	"version":        true,
}

// OrderPatch is a set of column updates applied by OrderStore.Update
type OrderPatch map[string]interface{}

// CreateOrderInput describes an order handed over by the import pipeline
type CreateOrderInput struct {
	OrderNumber     string
	ProjectID       uint
	Priority        string
	DueDate         *time.Time
	ClientReference string
	InitialLayer    models.Layer // optional, defaults to the project's first layer
	ReceivedAt      *time.Time
}

// OrderFilter narrows List results
type OrderFilter struct {
	ProjectID     uint
	WorkflowState models.WorkflowState
	AssignedTo    *uint
	Limit         int
	Offset        int
}

type capabilityState struct {
	mu     sync.Mutex
	issued *TransitionCapability
}

// OrderStore persists orders with optimistic concurrency on the version column
type OrderStore struct {
	db   *gorm.DB
	caps *capabilityState
}

// NewOrderStore creates a new order store
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db, caps: &capabilityState{}}
}

// IssueTransitionCapability hands out the store's single transition capability
func (s *OrderStore) IssueTransitionCapability() (*TransitionCapability, error) {
	s.caps.mu.Lock()
	defer s.caps.mu.Unlock()
	if s.caps.issued != nil {
		return nil, newError(CodeForbidden, "transition capability already issued")
	}
	s.caps.issued = &TransitionCapability{issuedAt: time.Now()}
	return s.caps.issued, nil
}

func (s *OrderStore) authorized(capability *TransitionCapability) bool {
	s.caps.mu.Lock()
	defer s.caps.mu.Unlock()
	return capability != nil && capability == s.caps.issued
}

// withTx returns a store bound to tx sharing the same capability
func (s *OrderStore) withTx(tx *gorm.DB) *OrderStore {
	return &OrderStore{db: tx, caps: s.caps}
}

// Create persists a new order in RECEIVED
func (s *OrderStore) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	input.OrderNumber = strings.TrimSpace(input.OrderNumber)
	if input.OrderNumber == "" {
		return nil, newError(CodeValidation, "order_number is required")
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(input.Priority) {
		return nil, newError(CodeValidation, "unknown priority %q", input.Priority)
	}

	project, err := findProject(ctx, s.db, input.ProjectID)
	if err != nil {
		return nil, err
	}
	first, ok := project.FirstLayer()
	if !ok {
		return nil, newError(CodeInvalidLayer, "project %d has no workflow layers", project.ID)
	}
	entry := first
	if input.InitialLayer != "" {
		if !project.HasLayer(input.InitialLayer) {
			return nil, newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", input.InitialLayer, project.ID)
		}
		entry = input.InitialLayer
	}

	receivedAt := time.Now().UTC()
	if input.ReceivedAt != nil {
		receivedAt = input.ReceivedAt.UTC()
	}

	order := models.Order{
		OrderNumber:     input.OrderNumber,
		ProjectID:       project.ID,
		WorkflowState:   models.StateReceived,
		Priority:        input.Priority,
		DueDate:         input.DueDate,
		ClientReference: input.ClientReference,
		EntryLayer:      entry,
		ReceivedAt:      receivedAt,
		Version:         1,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(CodeConflict, "order number %s already exists", input.OrderNumber)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &order, nil
}

// Get loads an order by id
func (s *OrderStore) Get(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "order %d not found", id)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

// Update applies patch when the stored version still equals expectedVersion.
// Workflow-owned columns require the transition capability.
func (s *OrderStore) Update(ctx context.Context, id uint, expectedVersion int, patch OrderPatch, capability *TransitionCapability) (*models.Order, error) {
	for column := range patch {
		if protectedColumns[column] && !s.authorized(capability) {
			return nil, newError(CodeForbidden, "column %s can only change through a workflow transition", column)
		}
	}

	values := make(map[string]interface{}, len(patch)+2)
	for k, v := range patch {
		values[k] = v
	}
	values["version"] = expectedVersion + 1
	values["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, newError(CodeAlreadyAssigned, "worker already holds an active order")
		}
		return nil, fmt.Errorf("failed to update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &WorkflowError{
			Code:    CodeConflict,
			Message: fmt.Sprintf("order %d was modified concurrently (expected version %d, found %d)", id, expectedVersion, current.Version),
			Order:   current,
		}
	}
	return s.Get(ctx, id)
}

// FindActiveOrderForUser returns the order the user is currently working, or nil
func (s *OrderStore) FindActiveOrderForUser(ctx context.Context, userID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("assigned_to = ?", userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active order: %w", err)
	}
	return &order, nil
}

// List returns orders matching filter, newest first
func (s *OrderStore) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var orders []models.Order
	if err := s.filtered(ctx, filter).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// Count returns the number of orders matching filter, ignoring paging
func (s *OrderStore) Count(ctx context.Context, filter OrderFilter) (int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return total, nil
}

func (s *OrderStore) filtered(ctx context.Context, filter OrderFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.ProjectID != 0 {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.WorkflowState != "" {
		query = query.Where("workflow_state = ?", filter.WorkflowState)
	}
	if filter.AssignedTo != nil {
		query = query.Where("assigned_to = ?", *filter.AssignedTo)
	}
	return query
}

func findProject(ctx context.Context, db *gorm.DB, id uint) (*models.Project, error) {
	var project models.Project
	if err := db.WithContext(ctx).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "project %d not found", id)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}
