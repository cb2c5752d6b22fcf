package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/benchmark-ops/order-workflow-api/middleware"
	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db        *gorm.DB
	svc       *services.WorkflowService
	snapshots *services.MockSnapshotStorage
	project   *models.Project
	staff     map[string]*models.User
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.Project{}, &models.Order{}, &models.WorkItem{}, &models.MonthLock{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// setupTestEnv installs a workflow service over a fresh database with a
// drawer -> checker -> qa project and one user per role.
func setupTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)
	snapshots := services.NewMockSnapshotStorage()

	svc, err := services.NewWorkflowService(db, services.Options{
		Publisher: services.NewMockPublisher(),
		Snapshots: snapshots,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	original := services.GetWorkflowService()
	services.SetWorkflowService(svc)
	t.Cleanup(func() { services.SetWorkflowService(original) })

	env := &testEnv{db: db, svc: svc, snapshots: snapshots, staff: make(map[string]*models.User)}

	project := models.Project{
		Name:           "Acme Floor Plans",
		Department:     "floor_plan",
		WorkflowLayers: []models.Layer{models.LayerDrawer, models.LayerChecker, models.LayerQA},
	}
	require.NoError(t, db.Create(&project).Error)
	env.project = &project

	for _, role := range []string{
		models.RoleDrawer, models.RoleChecker, models.RoleQA, models.RoleDesigner,
		models.RoleSupervisor, models.RoleOperationsManager, models.RoleCEO, models.RoleAdmin,
	} {
		user := models.User{
			Auth0ID: "auth0|" + role,
			Name:    role + " user",
			Email:   role + "@benchmark.test",
			Role:    role,
		}
		require.NoError(t, db.Create(&user).Error)
		env.staff[role] = &user
	}
	return env
}

func (e *testEnv) user(role string) *models.User {
	return e.staff[role]
}

func (e *testEnv) intake(t *testing.T, number string) *models.Order {
	order, err := e.svc.IntakeOrder(context.Background(), e.user(models.RoleSupervisor), services.CreateOrderInput{
		OrderNumber: number,
		ProjectID:   e.project.ID,
	})
	require.NoError(t, err)
	return order
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	return router
}

// mockAuthMiddleware simulates the Auth0 JWT middleware for testing.
// It sets up the context exactly as the real EnsureValidToken middleware does.
func mockAuthMiddleware(auth0ID, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", auth0ID)
		c.Set("validated_claims", &validator.ValidatedClaims{
			CustomClaims: &middleware.CustomClaims{Scope: scope},
		})
		c.Next()
	}
}

// performRequest sends body as JSON (nil sends no body) and decodes the response
func performRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return w, response
}

func errorCode(response map[string]interface{}) string {
	errObj, ok := response["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := errObj["code"].(string)
	return code
}

func orderPath(id uint, action string) string {
	return fmt.Sprintf("/workflow/orders/%d/%s", id, action)
}
