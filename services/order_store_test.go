package services

import (
	"context"
	"testing"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStoreCreate(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	store := f.svc.Orders

	t.Run("Persists a RECEIVED order on the first layer", func(t *testing.T) {
		order, err := store.Create(ctx, CreateOrderInput{OrderNumber: " BM-1001 ", ProjectID: f.project.ID})
		require.NoError(t, err)

		assert.Equal(t, "BM-1001", order.OrderNumber)
		assert.Equal(t, models.StateReceived, order.WorkflowState)
		assert.Equal(t, models.PriorityMedium, order.Priority)
		assert.Equal(t, models.LayerDrawer, order.EntryLayer)
		assert.Equal(t, 1, order.Version)
		assert.Nil(t, order.AssignedTo)
		assert.False(t, order.ReceivedAt.IsZero())
	})

	t.Run("Honors an initial layer and received_at", func(t *testing.T) {
		received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		order, err := store.Create(ctx, CreateOrderInput{
			OrderNumber:  "BM-1002",
			ProjectID:    f.project.ID,
			Priority:     models.PriorityUrgent,
			InitialLayer: models.LayerChecker,
			ReceivedAt:   &received,
		})
		require.NoError(t, err)
		assert.Equal(t, models.LayerChecker, order.EntryLayer)
		assert.True(t, received.Equal(order.ReceivedAt))
	})

	tests := []struct {
		name  string
		input CreateOrderInput
		code  ErrorCode
	}{
		{"Missing order number", CreateOrderInput{ProjectID: f.project.ID}, CodeValidation},
		{"Unknown priority", CreateOrderInput{OrderNumber: "BM-2001", ProjectID: f.project.ID, Priority: "asap"}, CodeValidation},
		{"Unknown project", CreateOrderInput{OrderNumber: "BM-2002", ProjectID: 9999}, CodeNotFound},
		{"Layer outside the project workflow", CreateOrderInput{OrderNumber: "BM-2003", ProjectID: f.project.ID, InitialLayer: models.LayerDesigner}, CodeInvalidLayer},
		{"Duplicate order number", CreateOrderInput{OrderNumber: "BM-1001", ProjectID: f.project.ID}, CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.input)
			requireCode(t, err, tt.code)
		})
	}
}

func TestOrderStoreGetNotFound(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Orders.Get(context.Background(), 4242)
	requireCode(t, err, CodeNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderStoreUpdateRequiresCapability(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	order := f.intake(t, "BM-3001", "")

	protected := []OrderPatch{
		{"workflow_state": models.StateDelivered},
		{"assigned_to": f.user(models.RoleDrawer).ID},
		{"attempt_draw": 9},
		{"recheck_count": 3},
		{"is_on_hold": true},
		{"resume_state": models.StateInQA},
	}
	for _, patch := range protected {
		_, err := f.svc.Orders.Update(ctx, order.ID, order.Version, patch, nil)
		requireCode(t, err, CodeForbidden)

		_, err = f.svc.Orders.Update(ctx, order.ID, order.Version, patch, &TransitionCapability{})
		requireCode(t, err, CodeForbidden)
	}

	// Descriptive columns need no capability
	updated, err := f.svc.Orders.Update(ctx, order.ID, order.Version, OrderPatch{"client_reference": "PO-77"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "PO-77", updated.ClientReference)
	assert.Equal(t, order.Version+1, updated.Version)
	assert.Equal(t, models.StateQueuedDraw, updated.WorkflowState)
}

func TestOrderStoreUpdateConflictOnStaleVersion(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	order := f.intake(t, "BM-3002", "")

	_, err := f.svc.Orders.Update(ctx, order.ID, order.Version, OrderPatch{"client_reference": "first"}, nil)
	require.NoError(t, err)

	_, err = f.svc.Orders.Update(ctx, order.ID, order.Version, OrderPatch{"client_reference": "second"}, nil)
	we := requireCode(t, err, CodeConflict)
	require.NotNil(t, we.Order)
	assert.Equal(t, "first", we.Order.ClientReference)
	assert.Equal(t, order.Version+1, we.Order.Version)
}

func TestIssueTransitionCapabilityOnce(t *testing.T) {
	f := newWorkflowFixture(t)

	// The workflow service's engine already holds the capability
	_, err := f.svc.Orders.IssueTransitionCapability()
	requireCode(t, err, CodeForbidden)

	store := NewOrderStore(f.db)
	capability, err := store.IssueTransitionCapability()
	require.NoError(t, err)
	require.NotNil(t, capability)

	_, err = store.IssueTransitionCapability()
	requireCode(t, err, CodeForbidden)
}

func TestFindActiveOrderForUser(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	drawer := f.user(models.RoleDrawer)
	order := f.intake(t, "BM-3003", "")

	active, err := f.svc.Orders.FindActiveOrderForUser(ctx, drawer.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.svc.Engine.Start(ctx, drawer, order.ID, nil)
	require.NoError(t, err)

	active, err = f.svc.Orders.FindActiveOrderForUser(ctx, drawer.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, order.ID, active.ID)
}

func TestOrderStoreList(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	drawer := f.user(models.RoleDrawer)

	first := f.intake(t, "BM-4001", "")
	f.intake(t, "BM-4002", "")
	f.intake(t, "BM-4003", "")
	_, err := f.svc.Engine.Start(ctx, drawer, first.ID, nil)
	require.NoError(t, err)

	all, err := f.svc.Orders.List(ctx, OrderFilter{ProjectID: f.project.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queued, err := f.svc.Orders.List(ctx, OrderFilter{WorkflowState: models.StateQueuedDraw})
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	mine, err := f.svc.Orders.List(ctx, OrderFilter{AssignedTo: &drawer.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "BM-4001", mine[0].OrderNumber)

	page, err := f.svc.Orders.List(ctx, OrderFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	total, err := f.svc.Orders.Count(ctx, OrderFilter{ProjectID: f.project.ID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
