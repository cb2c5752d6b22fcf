package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthLockIsIdempotent(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	manager := f.user(models.RoleOperationsManager)

	first, err := f.svc.MonthLocks.Lock(ctx, manager, f.project.ID, 3, 2024)
	require.NoError(t, err)
	assert.Equal(t, manager.ID, first.LockedBy)

	second, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleCEO), f.project.ID, 3, 2024)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, manager.ID, second.LockedBy)

	locks, err := f.svc.MonthLocks.List(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	assert.Len(t, f.snapshots.Objects(), 1)
}

func TestMonthLockValidation(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	admin := f.user(models.RoleAdmin)

	tests := []struct {
		name      string
		actor     *models.User
		projectID uint
		month     int
		year      int
		code      ErrorCode
	}{
		{"Supervisor cannot lock", f.user(models.RoleSupervisor), f.project.ID, 3, 2024, CodeForbidden},
		{"Drawer cannot lock", f.user(models.RoleDrawer), f.project.ID, 3, 2024, CodeForbidden},
		{"Month zero", admin, f.project.ID, 0, 2024, CodeValidation},
		{"Month thirteen", admin, f.project.ID, 13, 2024, CodeValidation},
		{"Year out of range", admin, f.project.ID, 3, 1999, CodeValidation},
		{"Unknown project", admin, 5150, 3, 2024, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.MonthLocks.Lock(ctx, tt.actor, tt.projectID, tt.month, tt.year)
			requireCode(t, err, tt.code)
		})
	}
}

func TestMonthLockIsLocked(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	_, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleAdmin), f.project.ID, 12, 2025)
	require.NoError(t, err)

	tests := []struct {
		date   time.Time
		locked bool
	}{
		{time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), true},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 11, 30, 23, 0, 0, 0, time.UTC), false},
		// 2025-12-01 03:00 in Tokyo is still November in UTC
		{time.Date(2025, 12, 1, 3, 0, 0, 0, time.FixedZone("JST", 9*3600)), false},
	}
	for _, tt := range tests {
		locked, err := f.svc.MonthLocks.IsLocked(ctx, f.project.ID, tt.date)
		require.NoError(t, err)
		assert.Equal(t, tt.locked, locked, tt.date.String())
	}

	other, err := f.svc.MonthLocks.IsLocked(ctx, f.project.ID+1, time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, other)
}

func TestMonthLockUnlock(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	_, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleCEO), f.project.ID, 6, 2025)
	require.NoError(t, err)

	err = f.svc.MonthLocks.Unlock(ctx, f.user(models.RoleCEO), f.project.ID, 6, 2025)
	requireCode(t, err, CodeForbidden)

	require.NoError(t, f.svc.MonthLocks.Unlock(ctx, f.user(models.RoleAdmin), f.project.ID, 6, 2025))

	err = f.svc.MonthLocks.Unlock(ctx, f.user(models.RoleAdmin), f.project.ID, 6, 2025)
	requireCode(t, err, CodeNotFound)

	locked, err := f.svc.MonthLocks.IsLocked(ctx, f.project.ID, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMonthLockExportsInvoiceSnapshot(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	received := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

	delivered := f.intakeAt(t, "FP-200", received)
	for _, role := range []string{models.RoleDrawer, models.RoleChecker, models.RoleQA} {
		_, err := f.svc.Engine.Start(ctx, f.user(role), delivered.ID, nil)
		require.NoError(t, err)
		_, err = f.svc.Engine.Submit(ctx, f.user(role), delivered.ID, "", nil)
		require.NoError(t, err)
	}
	f.intakeAt(t, "FP-201", received.Add(24*time.Hour))
	f.intakeAt(t, "FP-300", received.AddDate(0, 1, 0)) // March, outside the period

	lock, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleOperationsManager), f.project.ID, 2, 2025)
	require.NoError(t, err)
	require.NotNil(t, lock.SnapshotKey)
	assert.True(t, strings.HasPrefix(*lock.SnapshotKey, "invoice-snapshots/project-"))

	body, ok := f.snapshots.Objects()[*lock.SnapshotKey]
	require.True(t, ok)

	var snapshot InvoiceSnapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, 2, snapshot.Month)
	assert.Equal(t, 2025, snapshot.Year)
	assert.Equal(t, []string{"FP-200"}, snapshot.DeliveredOrders)
	assert.Equal(t, int64(1), snapshot.StateCounts[models.StateDelivered])
	assert.Equal(t, int64(1), snapshot.StateCounts[models.StateQueuedDraw])

	stored, err := f.svc.MonthLocks.List(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].SnapshotKey)
	assert.Equal(t, *lock.SnapshotKey, *stored[0].SnapshotKey)
}

func TestMonthLockSnapshotFailureKeepsLock(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	f.snapshots.FailPut = true

	lock, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleAdmin), f.project.ID, 7, 2025)
	require.NoError(t, err)
	assert.Nil(t, lock.SnapshotKey)

	locked, err := f.svc.MonthLocks.IsLocked(ctx, f.project.ID, time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestMonthLockWithoutStorage(t *testing.T) {
	db := setupWorkflowTestDB(t)
	project := models.Project{Name: "Photo Studio", WorkflowLayers: []models.Layer{models.LayerDesigner}}
	require.NoError(t, db.Create(&project).Error)
	admin := models.User{Auth0ID: "auth0|admin", Name: "Admin", Email: "admin@benchmark.test", Role: models.RoleAdmin}
	require.NoError(t, db.Create(&admin).Error)

	gate := NewMonthLockGate(db, nil, zerolog.Nop())
	lock, err := gate.Lock(context.Background(), &admin, project.ID, 1, 2026)
	require.NoError(t, err)
	assert.Nil(t, lock.SnapshotKey)
}

func TestPeriodBounds(t *testing.T) {
	start, end := periodBounds(12, 2025)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestMonthLockSnapshotURL(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	lock, err := f.svc.MonthLocks.Lock(ctx, f.user(models.RoleAdmin), f.project.ID, 4, 2025)
	require.NoError(t, err)

	url, err := f.svc.MonthLocks.SnapshotURL(ctx, lock)
	require.NoError(t, err)
	assert.Contains(t, url, *lock.SnapshotKey)

	url, err = f.svc.MonthLocks.SnapshotURL(ctx, &models.MonthLock{})
	require.NoError(t, err)
	assert.Empty(t, url)
}
