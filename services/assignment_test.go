package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartNextClaimsHighestRankedOrder(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	drawer := f.user(models.RoleDrawer)

	f.intake(t, "BM-8001", models.PriorityLow)
	urgent := f.intake(t, "BM-8002", models.PriorityUrgent)
	f.intake(t, "BM-8003", models.PriorityHigh)

	order, err := f.svc.Assignments.StartNext(ctx, drawer, f.project.ID, models.LayerDrawer)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, urgent.ID, order.ID)
	assert.Equal(t, models.StateInDraw, order.WorkflowState)
	assert.Equal(t, drawer.ID, *order.AssignedTo)
}

func TestStartNextEmptyQueue(t *testing.T) {
	f := newWorkflowFixture(t)

	order, err := f.svc.Assignments.StartNext(context.Background(), f.user(models.RoleDrawer), f.project.ID, models.LayerDrawer)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestStartNextGuards(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	drawer := f.user(models.RoleDrawer)
	f.intake(t, "BM-8010", "")
	f.intake(t, "BM-8011", "")

	t.Run("Unknown layer", func(t *testing.T) {
		_, err := f.svc.Assignments.StartNext(ctx, drawer, f.project.ID, models.Layer("painter"))
		requireCode(t, err, CodeInvalidLayer)
	})

	t.Run("Layer outside the project", func(t *testing.T) {
		_, err := f.svc.Assignments.StartNext(ctx, f.user(models.RoleDesigner), f.project.ID, models.LayerDesigner)
		requireCode(t, err, CodeInvalidLayer)
	})

	t.Run("Role cannot work the layer", func(t *testing.T) {
		_, err := f.svc.Assignments.StartNext(ctx, f.user(models.RoleChecker), f.project.ID, models.LayerDrawer)
		requireCode(t, err, CodeForbidden)
	})

	t.Run("Unknown project", func(t *testing.T) {
		_, err := f.svc.Assignments.StartNext(ctx, drawer, 31337, models.LayerDrawer)
		requireCode(t, err, CodeNotFound)
	})

	t.Run("Worker already busy", func(t *testing.T) {
		current, err := f.svc.Assignments.StartNext(ctx, drawer, f.project.ID, models.LayerDrawer)
		require.NoError(t, err)
		require.NotNil(t, current)

		_, err = f.svc.Assignments.StartNext(ctx, drawer, f.project.ID, models.LayerDrawer)
		we := requireCode(t, err, CodeAlreadyAssigned)
		require.NotNil(t, we.Order)
		assert.Equal(t, current.ID, we.Order.ID)
	})
}

func TestStartNextSkipsLockedPeriods(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	old := f.intakeAt(t, "BM-8020", time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC))
	_, err := f.svc.Orders.Update(ctx, old.ID, old.Version, OrderPatch{"priority": models.PriorityUrgent}, nil)
	require.NoError(t, err)
	fresh := f.intake(t, "BM-8021", models.PriorityLow)

	_, err = f.svc.MonthLocks.Lock(ctx, f.user(models.RoleCEO), f.project.ID, 1, 2025)
	require.NoError(t, err)

	order, err := f.svc.Assignments.StartNext(ctx, f.user(models.RoleDrawer), f.project.ID, models.LayerDrawer)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, fresh.ID, order.ID)
}

func TestConcurrentStartNextSingleOrder(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	only := f.intake(t, "BM-8030", "")
	workers := []*models.User{f.user(models.RoleDrawer), f.newUser(t, models.RoleDrawer)}

	results := make([]*models.Order, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, worker *models.User) {
			defer wg.Done()
			order, err := f.svc.Assignments.StartNext(ctx, worker, f.project.ID, models.LayerDrawer)
			assert.NoError(t, err)
			results[i] = order
		}(i, w)
	}
	wg.Wait()

	claimed := 0
	for _, order := range results {
		if order != nil {
			claimed++
			assert.Equal(t, only.ID, order.ID)
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestConcurrentStartNextDistinctOrders(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	for _, number := range []string{"BM-8040", "BM-8041", "BM-8042"} {
		f.intake(t, number, "")
	}
	workers := []*models.User{f.user(models.RoleDrawer), f.newUser(t, models.RoleDrawer), f.newUser(t, models.RoleDrawer)}

	results := make([]*models.Order, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, worker *models.User) {
			defer wg.Done()
			order, err := f.svc.Assignments.StartNext(ctx, worker, f.project.ID, models.LayerDrawer)
			assert.NoError(t, err)
			results[i] = order
		}(i, w)
	}
	wg.Wait()

	seen := map[uint]uint{}
	for i, order := range results {
		require.NotNil(t, order, "worker %d got nothing", i)
		_, dup := seen[order.ID]
		assert.False(t, dup, "order %d handed out twice", order.ID)
		seen[order.ID] = workers[i].ID
		assert.Equal(t, workers[i].ID, *order.AssignedTo)
	}
}

func TestBulkAssign(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	supervisor := f.user(models.RoleSupervisor)
	drawer := f.user(models.RoleDrawer)
	second := f.newUser(t, models.RoleDrawer)

	a := f.intake(t, "BM-8050", "")
	b := f.intake(t, "BM-8051", "")
	c := f.intake(t, "BM-8052", "")

	results, err := f.svc.Assignments.BulkAssign(ctx, supervisor, []BulkAssignment{
		{OrderID: a.ID, UserID: drawer.ID},
		{OrderID: b.ID, UserID: drawer.ID},                      // drawer is busy by now
		{OrderID: c.ID, UserID: f.user(models.RoleChecker).ID}, // wrong layer
		{OrderID: 9999, UserID: second.ID},
		{OrderID: b.ID, UserID: 8888},
		{OrderID: b.ID, UserID: second.ID},
	})
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.True(t, results[0].Success)
	assert.Equal(t, models.StateInDraw, results[0].Order.WorkflowState)

	expected := []ErrorCode{"", CodeAlreadyAssigned, CodeForbidden, CodeNotFound, CodeNotFound, ""}
	for i, code := range expected {
		if code == "" {
			assert.True(t, results[i].Success, "item %d", i)
			assert.Nil(t, results[i].Error)
			continue
		}
		assert.False(t, results[i].Success, "item %d", i)
		require.NotNil(t, results[i].Error, "item %d", i)
		assert.Equal(t, code, results[i].Error.Code, "item %d", i)
	}

	// Supervisor assignments leave the item in "assigned" until the worker starts
	open, err := f.svc.Ledger.Open(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.WorkItemAssigned, open.Status)
	assert.Equal(t, second.ID, *open.AssignedUserID)
	assert.Equal(t, models.StateQueuedDraw, f.reload(t, c.ID).WorkflowState)
}

func TestBulkAssignRequiresSupervisor(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.intake(t, "BM-8060", "")

	_, err := f.svc.Assignments.BulkAssign(context.Background(), f.user(models.RoleDrawer), []BulkAssignment{
		{OrderID: order.ID, UserID: f.user(models.RoleDrawer).ID},
	})
	requireCode(t, err, CodeForbidden)

	_, err = f.svc.Assignments.BulkAssign(context.Background(), f.user(models.RoleAdmin), nil)
	requireCode(t, err, CodeValidation)
}

func TestAssignedWorkerStartsThenSubmits(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	drawer := f.user(models.RoleDrawer)
	order := f.intake(t, "BM-8070", "")

	results, err := f.svc.Assignments.BulkAssign(ctx, f.user(models.RoleSupervisor), []BulkAssignment{
		{OrderID: order.ID, UserID: drawer.ID},
	})
	require.NoError(t, err)
	require.True(t, results[0].Success)
	assigned := results[0].Order

	// Work cannot be finished before the worker picks it up
	_, err = f.svc.Engine.Submit(ctx, drawer, order.ID, "", nil)
	requireCode(t, err, CodeInvalidTransition)

	_, err = f.svc.Engine.Start(ctx, f.newUser(t, models.RoleDrawer), order.ID, nil)
	requireCode(t, err, CodeAlreadyAssigned)

	started, err := f.svc.Engine.Start(ctx, drawer, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateInDraw, started.WorkflowState)
	assert.Equal(t, drawer.ID, *started.AssignedTo)
	assert.Equal(t, 1, started.AttemptDraw)
	assert.Equal(t, assigned.Version+1, started.Version)

	open, err := f.svc.Ledger.Open(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.WorkItemInProgress, open.Status)

	_, err = f.svc.Engine.Start(ctx, drawer, order.ID, nil)
	requireCode(t, err, CodeAlreadyAssigned)

	_, err = f.svc.Engine.Submit(ctx, drawer, order.ID, "done", nil)
	require.NoError(t, err)

	history, err := f.svc.Ledger.History(ctx, order.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.WorkItemSubmitted, last.Status)
	assert.Equal(t, drawer.ID, *last.AssignedUserID)
	assert.NotNil(t, last.CompletedAt)
}
