package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Roles allowed to perform the managerial transitions
var (
	holdRoles       = []string{models.RoleChecker, models.RoleQA, models.RoleOperationsManager, models.RoleSupervisor, models.RoleAdmin}
	supervisorRoles = []string{models.RoleSupervisor, models.RoleOperationsManager, models.RoleAdmin}
	cancelRoles     = []string{models.RoleSupervisor, models.RoleOperationsManager, models.RoleCEO, models.RoleAdmin}
)

// Rules holds the tunable validation thresholds of the state machine
type Rules struct {
	MinRejectReasonLength int
	MinHoldReasonLength   int
}

// DefaultRules returns the production thresholds
func DefaultRules() Rules {
	return Rules{MinRejectReasonLength: 5, MinHoldReasonLength: 3}
}

// RejectInput carries a checker's or QA's rejection
type RejectInput struct {
	Reason          string
	Code            string
	RouteTo         string // optional earlier layer, e.g. "draw"
	ExpectedVersion *int
}

// TransitionEngine validates and applies every order state change.
// Each transition is one database transaction guarded by the order's version.
type TransitionEngine struct {
	db         *gorm.DB
	store      *OrderStore
	ledger     *Ledger
	locks      *MonthLockGate
	events     EventPublisher
	capability *TransitionCapability
	rules      Rules
	log        zerolog.Logger
}

// NewTransitionEngine creates the engine and claims the store's transition capability
func NewTransitionEngine(db *gorm.DB, store *OrderStore, ledger *Ledger, locks *MonthLockGate, events EventPublisher, rules Rules, log zerolog.Logger) (*TransitionEngine, error) {
	capability, err := store.IssueTransitionCapability()
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = NoopPublisher{}
	}
	return &TransitionEngine{
		db:         db,
		store:      store,
		ledger:     ledger,
		locks:      locks,
		events:     events,
		capability: capability,
		rules:      rules,
		log:        log,
	}, nil
}

// txn is the state shared between apply and a transition body
type txn struct {
	ctx     context.Context
	tx      *gorm.DB
	store   *OrderStore
	ledger  *Ledger
	order   *models.Order
	project *models.Project
	now     time.Time
}

// change is the outcome a transition body asks apply to commit
type change struct {
	patch OrderPatch
	path  []models.WorkflowState
}

// apply loads the order, runs the shared guards and the body, and commits the
// body's patch with a compare-and-swap on the version read at the start.
func (e *TransitionEngine) apply(ctx context.Context, action string, actor *models.User, orderID uint, expectedVersion *int, body func(t *txn) (*change, error)) (*models.Order, error) {
	var (
		from   models.WorkflowState
		result *models.Order
		path   []models.WorkflowState
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &txn{
			ctx:    ctx,
			tx:     tx,
			store:  e.store.withTx(tx),
			ledger: e.ledger.withTx(tx),
			now:    time.Now().UTC(),
		}

		order, err := t.store.Get(ctx, orderID)
		if err != nil {
			return err
		}
		t.order = order
		from = order.WorkflowState

		if expectedVersion != nil && *expectedVersion != order.Version {
			return newError(CodeConflict, "order %s is at version %d, expected %d", order.OrderNumber, order.Version, *expectedVersion)
		}
		if order.WorkflowState.IsTerminal() {
			return newError(CodeInvalidTransition, "order %s is %s and can no longer change", order.OrderNumber, order.WorkflowState)
		}

		locked, err := e.locks.withTx(tx).IsLocked(ctx, order.ProjectID, order.ReceivedAt)
		if err != nil {
			return err
		}
		if locked {
			received := order.ReceivedAt.UTC()
			return newError(CodePeriodLocked, "project %d is locked for %02d/%d", order.ProjectID, int(received.Month()), received.Year())
		}

		if t.project, err = findProject(ctx, tx, order.ProjectID); err != nil {
			return err
		}

		c, err := body(t)
		if err != nil {
			return err
		}

		updated, err := t.store.Update(ctx, order.ID, order.Version, c.patch, e.capability)
		if err != nil {
			return err
		}
		result = updated
		path = c.path
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, action, orderID, err)
	}

	e.log.Info().
		Str("action", action).
		Uint("order_id", result.ID).
		Str("order_number", result.OrderNumber).
		Str("from", string(from)).
		Str("to", string(result.WorkflowState)).
		Int("version", result.Version).
		Msg("Order transition applied")

	e.publish(ctx, action, actor, from, result, path)
	return result, nil
}

// fail attaches the order's current state to workflow errors
func (e *TransitionEngine) fail(ctx context.Context, action string, orderID uint, err error) error {
	we, ok := AsWorkflowError(err)
	if !ok {
		e.log.Error().Err(err).Str("action", action).Uint("order_id", orderID).Msg("Order transition failed")
		return err
	}
	if we.Order == nil && we.Code != CodeNotFound {
		if current, getErr := e.store.Get(ctx, orderID); getErr == nil {
			we.Order = current
		}
	}
	e.log.Debug().Str("action", action).Uint("order_id", orderID).Str("code", string(we.Code)).Msg(we.Message)
	return we
}

func (e *TransitionEngine) publish(ctx context.Context, action string, actor *models.User, from models.WorkflowState, order *models.Order, path []models.WorkflowState) {
	event := OrderEvent{
		ID:          uuid.NewString(),
		Action:      action,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ProjectID:   order.ProjectID,
		From:        from,
		To:          order.WorkflowState,
		Path:        path,
		ActorID:     actorID(actor),
		AssignedTo:  order.AssignedTo,
		Version:     order.Version,
		OccurredAt:  order.UpdatedAt,
	}

	// The transition is committed; a slow or failing broker must not fail the caller
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.events.Publish(publishCtx, event); err != nil {
		e.log.Warn().Err(err).Str("event_id", event.ID).Uint("order_id", order.ID).Msg("Failed to publish order event")
	}
}

// Receive moves a freshly imported order into the queue of its entry layer
func (e *TransitionEngine) Receive(ctx context.Context, actor *models.User, orderID uint) (*models.Order, error) {
	return e.apply(ctx, "receive", actor, orderID, nil, func(t *txn) (*change, error) {
		o := t.order
		if o.WorkflowState != models.StateReceived {
			return nil, newError(CodeInvalidTransition, "order %s is %s, not RECEIVED", o.OrderNumber, o.WorkflowState)
		}

		layer := o.EntryLayer
		if layer == "" {
			first, ok := t.project.FirstLayer()
			if !ok {
				return nil, newError(CodeInvalidLayer, "project %d has no workflow layers", t.project.ID)
			}
			layer = first
		}
		if !t.project.HasLayer(layer) {
			return nil, newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", layer, t.project.ID)
		}

		if _, err := t.ledger.Append(t.ctx, o.ID, layer, actorID(actor), models.WorkItemQueued, nil); err != nil {
			return nil, err
		}
		return &change{
			patch: OrderPatch{"workflow_state": layer.QueuedState(), "entry_layer": layer},
			path:  []models.WorkflowState{o.WorkflowState, layer.QueuedState()},
		}, nil
	})
}

// Start claims a queued order for the calling worker
func (e *TransitionEngine) Start(ctx context.Context, actor *models.User, orderID uint, expectedVersion *int) (*models.Order, error) {
	return e.claim(ctx, "start", actor, actor, orderID, expectedVersion)
}

// Assign claims a queued order on behalf of worker; used by supervisors
func (e *TransitionEngine) Assign(ctx context.Context, actor *models.User, orderID uint, worker *models.User) (*models.Order, error) {
	return e.claim(ctx, "assign", actor, worker, orderID, nil)
}

func (e *TransitionEngine) claim(ctx context.Context, action string, actor, worker *models.User, orderID uint, expectedVersion *int) (*models.Order, error) {
	return e.apply(ctx, action, actor, orderID, expectedVersion, func(t *txn) (*change, error) {
		o := t.order
		selfStart := actor.ID == worker.ID
		if !selfStart && !actor.HasRole(supervisorRoles...) {
			return nil, newError(CodeForbidden, "role %s cannot assign orders", actor.Role)
		}
		if o.AssignedTo != nil {
			if selfStart && *o.AssignedTo == worker.ID {
				return e.acceptAssignment(t)
			}
			return nil, newError(CodeAlreadyAssigned, "order %s is already assigned to user %d", o.OrderNumber, *o.AssignedTo)
		}
		layer, ok := models.LayerOfQueued(o.WorkflowState)
		if !ok {
			return nil, newError(CodeNotQueued, "order %s is %s, not queued", o.OrderNumber, o.WorkflowState)
		}
		if !worker.CanWork(layer) {
			return nil, newError(CodeForbidden, "user %d (%s) cannot work the %s layer", worker.ID, worker.Role, layer)
		}
		if err := e.ensureIdle(t, worker); err != nil {
			return nil, err
		}

		status := models.WorkItemAssigned
		if selfStart {
			status = models.WorkItemInProgress
		}
		return e.enterLayer(t, layer, worker, status, nil)
	})
}

// acceptAssignment lets a worker start an order a supervisor handed them
func (e *TransitionEngine) acceptAssignment(t *txn) (*change, error) {
	o := t.order
	open, err := t.ledger.Open(t.ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if open == nil || open.Status != models.WorkItemAssigned {
		return nil, newError(CodeAlreadyAssigned, "order %s is already in progress", o.OrderNumber)
	}
	if err := t.ledger.MarkInProgress(t.ctx, open); err != nil {
		return nil, err
	}
	return &change{
		patch: OrderPatch{},
		path:  []models.WorkflowState{o.WorkflowState},
	}, nil
}

// requireStarted rejects finishing work the assignee has not started yet
func (e *TransitionEngine) requireStarted(t *txn) error {
	open, err := t.ledger.Open(t.ctx, t.order.ID)
	if err != nil {
		return err
	}
	if open != nil && open.Status == models.WorkItemAssigned {
		return newError(CodeInvalidTransition, "order %s was assigned but not started", t.order.OrderNumber)
	}
	return nil
}

// ensureIdle rejects workers who already hold an active order
func (e *TransitionEngine) ensureIdle(t *txn, worker *models.User) error {
	active, err := t.store.FindActiveOrderForUser(t.ctx, worker.ID)
	if err != nil {
		return err
	}
	if active != nil {
		return newError(CodeAlreadyAssigned, "user %d is already working order %s", worker.ID, active.OrderNumber)
	}
	return nil
}

// enterLayer hands a queued order to worker and counts the attempt
func (e *TransitionEngine) enterLayer(t *txn, layer models.Layer, worker *models.User, status string, reason *string) (*change, error) {
	o := t.order
	item, err := t.ledger.Append(t.ctx, o.ID, layer, &worker.ID, models.WorkItemAssigned, reason)
	if err != nil {
		return nil, err
	}
	if status == models.WorkItemInProgress {
		if err := t.ledger.MarkInProgress(t.ctx, item); err != nil {
			return nil, err
		}
	}

	patch := OrderPatch{
		"workflow_state":           layer.ActiveState(),
		"assigned_to":              worker.ID,
		models.AttemptColumn(layer): o.Attempts(layer) + 1,
	}
	if o.StartedAt == nil {
		patch["started_at"] = t.now
	}
	return &change{
		patch: patch,
		path:  []models.WorkflowState{o.WorkflowState, layer.ActiveState()},
	}, nil
}

// Submit finishes the caller's work and advances the order to the next layer,
// delivering it when the layer was the project's last.
func (e *TransitionEngine) Submit(ctx context.Context, actor *models.User, orderID uint, comment string, expectedVersion *int) (*models.Order, error) {
	return e.apply(ctx, "submit", actor, orderID, expectedVersion, func(t *txn) (*change, error) {
		o := t.order
		layer, ok := models.LayerOfActive(o.WorkflowState)
		if !ok {
			return nil, newError(CodeInvalidTransition, "order %s is %s, not in progress", o.OrderNumber, o.WorkflowState)
		}
		if o.AssignedTo == nil || *o.AssignedTo != actor.ID {
			return nil, newError(CodeNotOwner, "order %s is not assigned to user %d", o.OrderNumber, actor.ID)
		}
		if !t.project.HasLayer(layer) {
			return nil, newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", layer, t.project.ID)
		}
		if err := e.requireStarted(t); err != nil {
			return nil, err
		}

		if _, err := t.ledger.Record(t.ctx, o.ID, layer, &actor.ID, models.WorkItemSubmitted, nil, optional(comment)); err != nil {
			return nil, err
		}

		patch := OrderPatch{"assigned_to": nil}
		path := []models.WorkflowState{o.WorkflowState, layer.SubmittedState()}
		if next, ok := t.project.NextLayer(layer); ok {
			patch["workflow_state"] = next.QueuedState()
			path = append(path, next.QueuedState())
		} else {
			patch["workflow_state"] = models.StateDelivered
			patch["completed_at"] = t.now
			path = append(path, models.StateDelivered)
		}
		return &change{patch: patch, path: path}, nil
	})
}

// Reject sends checked work back upstream with a reason and code
func (e *TransitionEngine) Reject(ctx context.Context, actor *models.User, orderID uint, in RejectInput) (*models.Order, error) {
	return e.apply(ctx, "reject", actor, orderID, in.ExpectedVersion, func(t *txn) (*change, error) {
		o := t.order
		layer, ok := models.LayerOfActive(o.WorkflowState)
		if !ok || !layer.CanReject() {
			return nil, newError(CodeInvalidTransition, "order %s is %s; rejections are only possible from IN_CHECK or IN_QA", o.OrderNumber, o.WorkflowState)
		}
		if !actor.HasRole(string(layer), models.RoleAdmin) {
			return nil, newError(CodeForbidden, "role %s cannot reject %s work", actor.Role, layer)
		}
		if o.AssignedTo == nil || *o.AssignedTo != actor.ID {
			return nil, newError(CodeNotOwner, "order %s is not assigned to user %d", o.OrderNumber, actor.ID)
		}

		reason := strings.TrimSpace(in.Reason)
		if utf8.RuneCountInString(reason) < e.rules.MinRejectReasonLength {
			return nil, newError(CodeInvalidReason, "rejection reason must be at least %d characters", e.rules.MinRejectReasonLength)
		}
		code := strings.TrimSpace(in.Code)
		if code == "" {
			return nil, newError(CodeInvalidReason, "rejection code is required")
		}
		if err := e.requireStarted(t); err != nil {
			return nil, err
		}

		target, err := rejectionTarget(t.project, layer, in.RouteTo)
		if err != nil {
			return nil, err
		}

		if _, err := t.ledger.Record(t.ctx, o.ID, layer, &actor.ID, models.WorkItemRejected, &reason, nil); err != nil {
			return nil, err
		}
		return &change{
			patch: OrderPatch{
				"workflow_state":   target.QueuedState(),
				"assigned_to":      nil,
				"rejection_reason": reason,
				"rejection_code":   code,
				"recheck_count":    o.RecheckCount + 1,
			},
			path: []models.WorkflowState{o.WorkflowState, layer.RejectedState(), target.QueuedState()},
		}, nil
	})
}

// rejectionTarget resolves where rejected work goes: routeTo when given,
// otherwise the layer right before the rejecting one.
func rejectionTarget(project *models.Project, from models.Layer, routeTo string) (models.Layer, error) {
	if strings.TrimSpace(routeTo) == "" {
		prev, ok := project.PreviousLayer(from)
		if !ok {
			return "", newError(CodeInvalidTransition, "no layer before %s to route the rejection to", from)
		}
		return prev, nil
	}

	target, ok := models.ParseLayer(routeTo)
	if !ok {
		return "", newError(CodeInvalidLayer, "unknown route_to %q", routeTo)
	}
	idx := project.LayerIndex(target)
	if idx < 0 {
		return "", newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", target, project.ID)
	}
	if idx >= project.LayerIndex(from) {
		return "", newError(CodeInvalidTransition, "rejections from %s can only route to an earlier layer", from)
	}
	return target, nil
}

// Hold parks a queued or in-progress order and remembers where it was
func (e *TransitionEngine) Hold(ctx context.Context, actor *models.User, orderID uint, reason string) (*models.Order, error) {
	return e.apply(ctx, "hold", actor, orderID, nil, func(t *txn) (*change, error) {
		o := t.order
		if !actor.HasRole(holdRoles...) {
			return nil, newError(CodeForbidden, "role %s cannot hold orders", actor.Role)
		}
		reason = strings.TrimSpace(reason)
		if utf8.RuneCountInString(reason) < e.rules.MinHoldReasonLength {
			return nil, newError(CodeInvalidReason, "hold reason must be at least %d characters", e.rules.MinHoldReasonLength)
		}
		layer, ok := layerOfState(o.WorkflowState)
		if !ok {
			return nil, newError(CodeInvalidTransition, "order %s is %s; only queued or in-progress orders can be held", o.OrderNumber, o.WorkflowState)
		}

		if _, err := t.ledger.Record(t.ctx, o.ID, layer, &actor.ID, models.WorkItemOnHold, &reason, nil); err != nil {
			return nil, err
		}
		return &change{
			patch: OrderPatch{
				"workflow_state": models.StateOnHold,
				"is_on_hold":     true,
				"hold_reason":    reason,
				"resume_state":   o.WorkflowState,
				"assigned_to":    nil,
			},
			path: []models.WorkflowState{o.WorkflowState, models.StateOnHold},
		}, nil
	})
}

// Resume releases a held order. Orders held while in progress go back to their
// layer's queue, since the assignment was dropped at hold time.
func (e *TransitionEngine) Resume(ctx context.Context, actor *models.User, orderID uint) (*models.Order, error) {
	return e.apply(ctx, "resume", actor, orderID, nil, func(t *txn) (*change, error) {
		o := t.order
		if !actor.HasRole(holdRoles...) {
			return nil, newError(CodeForbidden, "role %s cannot resume orders", actor.Role)
		}
		if o.WorkflowState != models.StateOnHold {
			return nil, newError(CodeInvalidTransition, "order %s is %s, not ON_HOLD", o.OrderNumber, o.WorkflowState)
		}
		layer, ok := layerOfState(o.ResumeState)
		if !ok {
			return nil, newError(CodeInvalidTransition, "order %s has no resume state", o.OrderNumber)
		}
		if !t.project.HasLayer(layer) {
			return nil, newError(CodeInvalidLayer, "layer %q is not part of project %d workflow", layer, t.project.ID)
		}

		if _, err := t.ledger.Append(t.ctx, o.ID, layer, &actor.ID, models.WorkItemResumed, nil); err != nil {
			return nil, err
		}
		target := layer.QueuedState()
		return &change{
			patch: OrderPatch{
				"workflow_state": target,
				"is_on_hold":     false,
				"hold_reason":    nil,
				"resume_state":   "",
			},
			path: []models.WorkflowState{models.StateOnHold, target},
		}, nil
	})
}

// Reassign drops the current assignee (toUserID nil) or hands the order to another worker
func (e *TransitionEngine) Reassign(ctx context.Context, actor *models.User, orderID uint, toUserID *uint, reason string) (*models.Order, error) {
	return e.apply(ctx, "reassign", actor, orderID, nil, func(t *txn) (*change, error) {
		o := t.order
		if !actor.HasRole(supervisorRoles...) {
			return nil, newError(CodeForbidden, "role %s cannot reassign orders", actor.Role)
		}
		reason = strings.TrimSpace(reason)
		if utf8.RuneCountInString(reason) < e.rules.MinHoldReasonLength {
			return nil, newError(CodeInvalidReason, "reassignment reason must be at least %d characters", e.rules.MinHoldReasonLength)
		}

		if toUserID == nil {
			layer, ok := models.LayerOfActive(o.WorkflowState)
			if !ok {
				return nil, newError(CodeInvalidTransition, "order %s is %s; only in-progress orders can be unassigned", o.OrderNumber, o.WorkflowState)
			}
			if _, err := t.ledger.Record(t.ctx, o.ID, layer, o.AssignedTo, models.WorkItemReassigned, &reason, nil); err != nil {
				return nil, err
			}
			return &change{
				patch: OrderPatch{"workflow_state": layer.QueuedState(), "assigned_to": nil},
				path:  []models.WorkflowState{o.WorkflowState, layer.QueuedState()},
			}, nil
		}

		worker, err := findUser(t.ctx, t.tx, *toUserID)
		if err != nil {
			return nil, err
		}
		layer, ok := layerOfState(o.WorkflowState)
		if !ok {
			return nil, newError(CodeInvalidTransition, "order %s is %s; only queued or in-progress orders can be reassigned", o.OrderNumber, o.WorkflowState)
		}
		if !worker.CanWork(layer) {
			return nil, newError(CodeForbidden, "user %d (%s) cannot work the %s layer", worker.ID, worker.Role, layer)
		}
		if o.AssignedTo != nil && *o.AssignedTo == worker.ID {
			return nil, newError(CodeAlreadyAssigned, "order %s is already assigned to user %d", o.OrderNumber, worker.ID)
		}
		if err := e.ensureIdle(t, worker); err != nil {
			return nil, err
		}

		if o.WorkflowState.IsQueued() {
			return e.enterLayer(t, layer, worker, models.WorkItemAssigned, &reason)
		}

		if _, err := t.ledger.Record(t.ctx, o.ID, layer, o.AssignedTo, models.WorkItemReassigned, &reason, nil); err != nil {
			return nil, err
		}
		// the order stays IN_<layer>, so the new assignee picks the work up in progress
		item, err := t.ledger.Append(t.ctx, o.ID, layer, &worker.ID, models.WorkItemAssigned, &reason)
		if err != nil {
			return nil, err
		}
		if err := t.ledger.MarkInProgress(t.ctx, item); err != nil {
			return nil, err
		}
		return &change{
			patch: OrderPatch{"assigned_to": worker.ID},
			path:  []models.WorkflowState{o.WorkflowState},
		}, nil
	})
}

// Cancel terminates the order; cancellation is irreversible
func (e *TransitionEngine) Cancel(ctx context.Context, actor *models.User, orderID uint, reason string) (*models.Order, error) {
	return e.apply(ctx, "cancel", actor, orderID, nil, func(t *txn) (*change, error) {
		o := t.order
		if !actor.HasRole(cancelRoles...) {
			return nil, newError(CodeForbidden, "role %s cannot cancel orders", actor.Role)
		}

		if _, err := t.ledger.Record(t.ctx, o.ID, stageOf(o, t.project), &actor.ID, models.WorkItemCancelled, optional(reason), nil); err != nil {
			return nil, err
		}
		return &change{
			patch: OrderPatch{
				"workflow_state": models.StateCancelled,
				"assigned_to":    nil,
				"is_on_hold":     false,
				"completed_at":   t.now,
			},
			path: []models.WorkflowState{o.WorkflowState, models.StateCancelled},
		}, nil
	})
}

// stageOf picks the layer a ledger entry about o belongs to
func stageOf(o *models.Order, project *models.Project) models.Layer {
	if layer, ok := layerOfState(o.WorkflowState); ok {
		return layer
	}
	if layer, ok := layerOfState(o.ResumeState); ok {
		return layer
	}
	if o.EntryLayer != "" {
		return o.EntryLayer
	}
	if first, ok := project.FirstLayer(); ok {
		return first
	}
	return models.LayerDrawer
}

func findUser(ctx context.Context, db *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "user %d not found", id)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func actorID(actor *models.User) *uint {
	if actor == nil {
		return nil
	}
	id := actor.ID
	return &id
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
