package services

import (
	"context"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/rs/zerolog"
)

// BulkAssignment pairs an order with the worker it should go to
type BulkAssignment struct {
	OrderID uint `json:"order_id" binding:"required"`
	UserID  uint `json:"user_id" binding:"required"`
}

// BulkAssignError describes why one assignment of a batch failed
type BulkAssignError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// BulkAssignResult is the outcome of one assignment of a batch
type BulkAssignResult struct {
	OrderID uint             `json:"order_id"`
	UserID  uint             `json:"user_id"`
	Success bool             `json:"success"`
	Order   *models.Order    `json:"order,omitempty"`
	Error   *BulkAssignError `json:"error,omitempty"`
}

// AssignmentController hands queued work to workers, either on request or in bulk
type AssignmentController struct {
	store      *OrderStore
	queues     *QueueManager
	engine     *TransitionEngine
	maxRetries int
	log        zerolog.Logger
}

// NewAssignmentController creates a new assignment controller
func NewAssignmentController(store *OrderStore, queues *QueueManager, engine *TransitionEngine, maxRetries int, log zerolog.Logger) *AssignmentController {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &AssignmentController{
		store:      store,
		queues:     queues,
		engine:     engine,
		maxRetries: maxRetries,
		log:        log,
	}
}

// StartNext claims the highest-ranked queued order of the layer for actor.
// It returns nil when the queue is empty or every attempt lost its race.
func (a *AssignmentController) StartNext(ctx context.Context, actor *models.User, projectID uint, layer models.Layer) (*models.Order, error) {
	if !layer.Valid() {
		return nil, newError(CodeInvalidLayer, "unknown layer %q", layer)
	}
	if !actor.CanWork(layer) {
		return nil, newError(CodeForbidden, "role %s cannot work the %s layer", actor.Role, layer)
	}
	project, err := findProject(ctx, a.store.db, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasLayer(layer) {
		return nil, newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", layer, project.ID)
	}
	if err := a.ensureIdle(ctx, actor); err != nil {
		return nil, err
	}

	tried := make(map[uint]bool)
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		candidates, err := a.queues.Candidates(ctx, projectID, layer, a.maxRetries)
		if err != nil {
			return nil, err
		}
		var next *models.Order
		for i := range candidates {
			if !tried[candidates[i].ID] {
				next = &candidates[i]
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		tried[next.ID] = true

		order, err := a.engine.Start(ctx, actor, next.ID, &next.Version)
		if err == nil {
			return order, nil
		}
		we, ok := AsWorkflowError(err)
		if !ok {
			return nil, err
		}
		switch we.Code {
		case CodeConflict, CodeNotQueued, CodePeriodLocked, CodeInvalidTransition:
			a.log.Debug().Uint("order_id", next.ID).Str("code", string(we.Code)).Int("attempt", attempt+1).Msg("Lost race for queued order")
		case CodeAlreadyAssigned:
			// Either the order was taken or the actor started something else meanwhile
			if err := a.ensureIdle(ctx, actor); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	a.log.Info().Uint("user_id", actor.ID).Uint("project_id", projectID).Str("layer", string(layer)).Msg("start-next exhausted its retries")
	return nil, nil
}

func (a *AssignmentController) ensureIdle(ctx context.Context, actor *models.User) error {
	active, err := a.store.FindActiveOrderForUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	if active != nil {
		return &WorkflowError{
			Code:    CodeAlreadyAssigned,
			Message: "user already has an active order: " + active.OrderNumber,
			Order:   active,
		}
	}
	return nil
}

// BulkAssign applies each assignment independently. A failed item does not
// stop the batch; the result reports every item's outcome.
func (a *AssignmentController) BulkAssign(ctx context.Context, actor *models.User, assignments []BulkAssignment) ([]BulkAssignResult, error) {
	if !actor.HasRole(supervisorRoles...) {
		return nil, newError(CodeForbidden, "role %s cannot assign orders", actor.Role)
	}
	if len(assignments) == 0 {
		return nil, newError(CodeValidation, "at least one assignment is required")
	}

	results := make([]BulkAssignResult, 0, len(assignments))
	succeeded := 0
	for _, assignment := range assignments {
		result := BulkAssignResult{OrderID: assignment.OrderID, UserID: assignment.UserID}

		order, err := a.assignOne(ctx, actor, assignment)
		if err != nil {
			result.Error = bulkError(err)
		} else {
			result.Success = true
			result.Order = order
			succeeded++
		}
		results = append(results, result)
	}

	a.log.Info().
		Uint("actor_id", actor.ID).
		Int("requested", len(assignments)).
		Int("assigned", succeeded).
		Msg("Bulk assignment processed")
	return results, nil
}

func (a *AssignmentController) assignOne(ctx context.Context, actor *models.User, assignment BulkAssignment) (*models.Order, error) {
	worker, err := findUser(ctx, a.store.db, assignment.UserID)
	if err != nil {
		return nil, err
	}
	return a.engine.Assign(ctx, actor, assignment.OrderID, worker)
}

func bulkError(err error) *BulkAssignError {
	if we, ok := AsWorkflowError(err); ok {
		return &BulkAssignError{Code: we.Code, Message: we.Message}
	}
	return &BulkAssignError{Code: "INTERNAL_ERROR", Message: err.Error()}
}
