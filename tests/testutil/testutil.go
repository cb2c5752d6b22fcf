package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/benchmark-ops/order-workflow-api/config"
	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// StaffRoles lists every role SeedStaff creates a user for
var StaffRoles = []string{
	models.RoleDrawer, models.RoleChecker, models.RoleQA, models.RoleDesigner,
	models.RoleSupervisor, models.RoleOperationsManager, models.RoleCEO, models.RoleAdmin,
}

// RequireTestEnvironment ensures that tests are running in the test environment.
// This prevents accidental execution of tests against production or development databases.
// It will fail the test immediately if GO_ENV is not set to "test".
func RequireTestEnvironment(t *testing.T) {
	t.Helper()

	env := os.Getenv("GO_ENV")
	if env != "test" {
		t.Fatalf("SAFETY CHECK FAILED: Tests must run with GO_ENV=test to prevent data loss. Current GO_ENV=%q. Set GO_ENV=test before running tests.", env)
	}
}

// MustSetTestEnvironment sets GO_ENV to test and fails if it cannot be set.
// Use this in TestMain or suite setup functions.
func MustSetTestEnvironment(t *testing.T) {
	t.Helper()

	if err := os.Setenv("GO_ENV", "test"); err != nil {
		t.Fatalf("Failed to set GO_ENV=test: %v", err)
	}
	RequireTestEnvironment(t)
}

// NewTestDB opens a migrated in-memory SQLite database.
// The pool is pinned to one connection so every query sees the same database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	RequireTestEnvironment(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db), "Failed to migrate test database")
	return db
}

// SeedStaff creates one user per role; the Auth0 subject is "auth0|<role>"
func SeedStaff(t *testing.T, db *gorm.DB) map[string]*models.User {
	t.Helper()

	staff := make(map[string]*models.User, len(StaffRoles))
	for _, role := range StaffRoles {
		staff[role] = SeedUser(t, db, role, "auth0|"+role)
	}
	return staff
}

// SeedUser creates a single staff member
func SeedUser(t *testing.T, db *gorm.DB, role, auth0ID string) *models.User {
	t.Helper()

	handle := strings.NewReplacer("|", "-", "@", "-").Replace(auth0ID)
	user := models.User{
		Auth0ID: auth0ID,
		Name:    fmt.Sprintf("%s (%s)", handle, role),
		Email:   handle + "@benchmark.test",
		Role:    role,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// SeedProject creates a project with the given workflow layers
func SeedProject(t *testing.T, db *gorm.DB, name string, layers ...models.Layer) *models.Project {
	t.Helper()

	project := models.Project{Name: name, Department: "floor_plan", WorkflowLayers: layers}
	require.NoError(t, db.Create(&project).Error)
	return &project
}

// MaskDatabaseURL hides credentials in a database URL for safe printing
func MaskDatabaseURL(url string) string {
	if url == "" {
		return "(not set)"
	}
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
