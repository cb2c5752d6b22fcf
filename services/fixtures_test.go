package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Every pooled connection to :memory: would be a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.Project{}, &models.Order{}, &models.WorkItem{}, &models.MonthLock{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

type workflowFixture struct {
	db        *gorm.DB
	svc       *WorkflowService
	events    *MockPublisher
	snapshots *MockSnapshotStorage
	project   *models.Project
	staff     map[string]*models.User
	seq       int
}

// newWorkflowFixture builds a service over a fresh database with one project
// using layers (drawer, checker, qa when none are given) and one user per role.
func newWorkflowFixture(t *testing.T, layers ...models.Layer) *workflowFixture {
	if len(layers) == 0 {
		layers = []models.Layer{models.LayerDrawer, models.LayerChecker, models.LayerQA}
	}
	db := setupWorkflowTestDB(t)
	events := NewMockPublisher()
	snapshots := NewMockSnapshotStorage()

	svc, err := NewWorkflowService(db, Options{
		Rules:      DefaultRules(),
		MaxRetries: 5,
		Publisher:  events,
		Snapshots:  snapshots,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	f := &workflowFixture{
		db:        db,
		svc:       svc,
		events:    events,
		snapshots: snapshots,
		staff:     make(map[string]*models.User),
	}

	project := models.Project{Name: "Acme Floor Plans", Department: "floor_plan", WorkflowLayers: layers}
	require.NoError(t, db.Create(&project).Error)
	f.project = &project

	for _, role := range []string{
		models.RoleDrawer, models.RoleChecker, models.RoleQA, models.RoleDesigner,
		models.RoleSupervisor, models.RoleOperationsManager, models.RoleCEO, models.RoleAdmin,
	} {
		f.staff[role] = f.newUser(t, role)
	}
	return f
}

func (f *workflowFixture) newUser(t *testing.T, role string) *models.User {
	f.seq++
	user := models.User{
		Auth0ID: fmt.Sprintf("auth0|%s-%d", role, f.seq),
		Name:    fmt.Sprintf("%s %d", role, f.seq),
		Email:   fmt.Sprintf("%s%d@benchmark.test", role, f.seq),
		Role:    role,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return &user
}

func (f *workflowFixture) user(role string) *models.User {
	return f.staff[role]
}

// intake imports and receives an order, queuing it on the project's first layer
func (f *workflowFixture) intake(t *testing.T, number, priority string) *models.Order {
	order, err := f.svc.IntakeOrder(context.Background(), f.user(models.RoleSupervisor), CreateOrderInput{
		OrderNumber: number,
		ProjectID:   f.project.ID,
		Priority:    priority,
	})
	require.NoError(t, err)
	return order
}

// intakeAt imports an order received at a specific time
func (f *workflowFixture) intakeAt(t *testing.T, number string, receivedAt time.Time) *models.Order {
	order, err := f.svc.IntakeOrder(context.Background(), f.user(models.RoleSupervisor), CreateOrderInput{
		OrderNumber: number,
		ProjectID:   f.project.ID,
		ReceivedAt:  &receivedAt,
	})
	require.NoError(t, err)
	return order
}

func (f *workflowFixture) reload(t *testing.T, id uint) *models.Order {
	order, err := f.svc.Orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order
}

// requireCode asserts err is a WorkflowError with code
func requireCode(t *testing.T, err error, code ErrorCode) *WorkflowError {
	t.Helper()
	require.Error(t, err)
	we, ok := AsWorkflowError(err)
	require.True(t, ok, "expected a WorkflowError, got %v", err)
	require.Equal(t, code, we.Code, we.Message)
	return we
}
