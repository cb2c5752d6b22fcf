package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options configures a WorkflowService
type Options struct {
	Rules      Rules
	MaxRetries int
	Publisher  EventPublisher
	Snapshots  SnapshotStorage // nil disables invoice snapshot export
	Logger     zerolog.Logger
}

// WorkflowService wires the workflow components around one database handle
type WorkflowService struct {
	db          *gorm.DB
	Orders      *OrderStore
	Ledger      *Ledger
	Queues      *QueueManager
	Engine      *TransitionEngine
	Assignments *AssignmentController
	MonthLocks  *MonthLockGate
	log         zerolog.Logger
}

var workflowServiceInstance *WorkflowService

// NewWorkflowService builds every component. The engine takes the order store's
// transition capability, so each service owns exactly one engine.
func NewWorkflowService(db *gorm.DB, opts Options) (*WorkflowService, error) {
	if opts.Rules == (Rules{}) {
		opts.Rules = DefaultRules()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 5
	}

	orders := NewOrderStore(db)
	ledger := NewLedger(db)
	queues := NewQueueManager(db, ledger)
	locks := NewMonthLockGate(db, opts.Snapshots, opts.Logger.With().Str("component", "month_lock").Logger())

	engine, err := NewTransitionEngine(db, orders, ledger, locks, opts.Publisher, opts.Rules,
		opts.Logger.With().Str("component", "transition_engine").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create transition engine: %w", err)
	}

	return &WorkflowService{
		db:          db,
		Orders:      orders,
		Ledger:      ledger,
		Queues:      queues,
		Engine:      engine,
		Assignments: NewAssignmentController(orders, queues, engine, opts.MaxRetries, opts.Logger.With().Str("component", "assignment").Logger()),
		MonthLocks:  locks,
		log:         opts.Logger,
	}, nil
}

// InitWorkflowService creates the shared workflow service instance
func InitWorkflowService(db *gorm.DB, opts Options) (*WorkflowService, error) {
	service, err := NewWorkflowService(db, opts)
	if err != nil {
		return nil, err
	}
	workflowServiceInstance = service
	return service, nil
}

// GetWorkflowService returns the initialized workflow service instance
func GetWorkflowService() *WorkflowService {
	return workflowServiceInstance
}

// SetWorkflowService sets the workflow service instance (primarily for testing)
func SetWorkflowService(service *WorkflowService) {
	workflowServiceInstance = service
}

// IntakeOrder creates an order handed over by the import pipeline and queues it.
// When receiving fails the order stays RECEIVED and the error is returned.
func (s *WorkflowService) IntakeOrder(ctx context.Context, actor *models.User, input CreateOrderInput) (*models.Order, error) {
	if !actor.HasRole(supervisorRoles...) {
		return nil, newError(CodeForbidden, "role %s cannot import orders", actor.Role)
	}
	return s.intake(ctx, actor, input)
}

// ImportOrder is IntakeOrder for the import pipeline's machine credentials;
// the ledger records no actor.
func (s *WorkflowService) ImportOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	return s.intake(ctx, nil, input)
}

func (s *WorkflowService) intake(ctx context.Context, actor *models.User, input CreateOrderInput) (*models.Order, error) {
	order, err := s.Orders.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.Engine.Receive(ctx, actor, order.ID)
}

// CurrentOrder returns the order the user is working, or nil
func (s *WorkflowService) CurrentOrder(ctx context.Context, user *models.User) (*models.Order, error) {
	return s.Orders.FindActiveOrderForUser(ctx, user.ID)
}

// WorkHistory returns the ledger of an existing order
func (s *WorkflowService) WorkHistory(ctx context.Context, orderID uint) ([]models.WorkItem, error) {
	if _, err := s.Orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.Ledger.History(ctx, orderID)
}

// CreateProject registers a project and its ordered workflow layers
func (s *WorkflowService) CreateProject(ctx context.Context, actor *models.User, name, department string, layerNames []string) (*models.Project, error) {
	if !actor.HasRole(models.RoleOperationsManager, models.RoleAdmin) {
		return nil, newError(CodeForbidden, "role %s cannot create projects", actor.Role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeValidation, "name is required")
	}
	layers, err := parseLayers(layerNames)
	if err != nil {
		return nil, err
	}

	project := models.Project{
		Name:           name,
		Department:     strings.TrimSpace(department),
		WorkflowLayers: layers,
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.log.Info().Uint("project_id", project.ID).Str("name", project.Name).Msg("Project created")
	return &project, nil
}

// parseLayers validates an ordered, duplicate-free list of layers
func parseLayers(names []string) ([]models.Layer, error) {
	if len(names) == 0 {
		return nil, newError(CodeInvalidLayer, "at least one workflow layer is required")
	}
	seen := make(map[models.Layer]bool, len(names))
	layers := make([]models.Layer, 0, len(names))
	for _, name := range names {
		layer, ok := models.ParseLayer(name)
		if !ok {
			return nil, newError(CodeInvalidLayer, "unknown layer %q", name)
		}
		if seen[layer] {
			return nil, newError(CodeInvalidLayer, "layer %q listed twice", layer)
		}
		seen[layer] = true
		layers = append(layers, layer)
	}
	return layers, nil
}

// GetProject loads a project by id
func (s *WorkflowService) GetProject(ctx context.Context, id uint) (*models.Project, error) {
	return findProject(ctx, s.db, id)
}

// FindUserByAuth0ID resolves the token subject to a staff member
func (s *WorkflowService) FindUserByAuth0ID(ctx context.Context, auth0ID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("auth0_id = ?", auth0ID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "no staff member for this account")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// FindUser loads a staff member by id
func (s *WorkflowService) FindUser(ctx context.Context, id uint) (*models.User, error) {
	return findUser(ctx, s.db, id)
}

// UpdateProfile changes a staff member's display name or email; empty values are left alone
func (s *WorkflowService) UpdateProfile(ctx context.Context, user *models.User, name, email string) (*models.User, error) {
	updates := make(map[string]interface{})
	if name = strings.TrimSpace(name); name != "" {
		updates["name"] = name
	}
	if email = strings.TrimSpace(email); email != "" {
		updates["email"] = email
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(CodeConflict, "a user with this email already exists")
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return findUser(ctx, s.db, user.ID)
}
