package controllers

import (
	"net/http"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/gin-gonic/gin"
)

// StartRequest represents the optional body of a start call
type StartRequest struct {
	ExpectedVersion *int `json:"expected_version"`
}

// SubmitRequest represents the body of a submit call
type SubmitRequest struct {
	Comment         string `json:"comment"`
	ExpectedVersion *int   `json:"expected_version"`
}

// RejectRequest represents the body of a reject call. Reason and code are
// validated by the workflow so the caller gets INVALID_REASON.
type RejectRequest struct {
	Reason          string `json:"reason"`
	RejectionCode   string `json:"rejection_code"`
	RouteTo         string `json:"route_to"`
	ExpectedVersion *int   `json:"expected_version"`
}

// ReasonRequest is shared by hold and cancel
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ReassignRequest represents the body of a reassign call; a missing
// to_user_id sends the order back to its queue.
type ReassignRequest struct {
	ToUserID *uint  `json:"to_user_id"`
	Reason   string `json:"reason"`
}

// StartNextRequest represents the body of a start-next call
type StartNextRequest struct {
	ProjectID uint   `json:"project_id" binding:"required"`
	Layer     string `json:"layer" binding:"required"`
}

// BulkAssignRequest represents the body of a bulk-assign call
type BulkAssignRequest struct {
	Assignments []services.BulkAssignment `json:"assignments" binding:"required,dive"`
}

// transition resolves the caller and the order id, then runs fn
func transition(c *gin.Context, body interface{}, fn func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error)) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if body != nil && !bindOptionalJSON(c, body) {
		return
	}

	order, err := fn(svc, user, orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// StartOrder handles POST /api/v1/workflow/orders/:id/start
func StartOrder(c *gin.Context) {
	var req StartRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Start(c.Request.Context(), user, orderID, req.ExpectedVersion)
	})
}

// SubmitOrder handles POST /api/v1/workflow/orders/:id/submit
func SubmitOrder(c *gin.Context) {
	var req SubmitRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Submit(c.Request.Context(), user, orderID, req.Comment, req.ExpectedVersion)
	})
}

// RejectOrder handles POST /api/v1/workflow/orders/:id/reject
func RejectOrder(c *gin.Context) {
	var req RejectRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Reject(c.Request.Context(), user, orderID, services.RejectInput{
			Reason:          req.Reason,
			Code:            req.RejectionCode,
			RouteTo:         req.RouteTo,
			ExpectedVersion: req.ExpectedVersion,
		})
	})
}

// HoldOrder handles POST /api/v1/workflow/orders/:id/hold
func HoldOrder(c *gin.Context) {
	var req ReasonRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Hold(c.Request.Context(), user, orderID, req.Reason)
	})
}

// ResumeOrder handles POST /api/v1/workflow/orders/:id/resume
func ResumeOrder(c *gin.Context) {
	transition(c, nil, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Resume(c.Request.Context(), user, orderID)
	})
}

// ReassignOrder handles POST /api/v1/workflow/orders/:id/reassign
func ReassignOrder(c *gin.Context) {
	var req ReassignRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Reassign(c.Request.Context(), user, orderID, req.ToUserID, req.Reason)
	})
}

// CancelOrder handles POST /api/v1/workflow/orders/:id/cancel
func CancelOrder(c *gin.Context) {
	var req ReasonRequest
	transition(c, &req, func(svc *services.WorkflowService, user *models.User, orderID uint) (*models.Order, error) {
		return svc.Engine.Cancel(c.Request.Context(), user, orderID, req.Reason)
	})
}

// StartNext handles POST /api/v1/workflow/start-next - claims the best queued order.
// An empty queue is not an error: data is null.
func StartNext(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	var req StartNextRequest
	if !bindJSON(c, &req) {
		return
	}
	layer, ok := models.ParseLayer(req.Layer)
	if !ok {
		respondError(c, http.StatusBadRequest, string(services.CodeInvalidLayer), "Unknown layer")
		return
	}

	order, err := svc.Assignments.StartNext(c.Request.Context(), user, req.ProjectID, layer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// PeekNext handles GET /api/v1/workflow/next/:projectId?layer= - shows the order
// start-next would pick without claiming it
func PeekNext(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, svc); !ok {
		return
	}
	projectID, ok := parseIDParam(c, "projectId")
	if !ok {
		return
	}
	layer, ok := models.ParseLayer(c.Query("layer"))
	if !ok {
		respondError(c, http.StatusBadRequest, string(services.CodeInvalidLayer), "Unknown layer")
		return
	}

	order, err := svc.Queues.PeekNext(c.Request.Context(), projectID, layer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// BulkAssign handles POST /api/v1/workflow/bulk-assign - itemized, partial success allowed
func BulkAssign(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	var req BulkAssignRequest
	if !bindJSON(c, &req) {
		return
	}

	results, err := svc.Assignments.BulkAssign(c.Request.Context(), user, req.Assignments)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	assigned := 0
	for _, r := range results {
		if r.Success {
			assigned++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    results,
		"summary": gin.H{
			"total":    len(results),
			"assigned": assigned,
			"failed":   len(results) - assigned,
		},
	})
}

// QueueHealth handles GET /api/v1/workflow/queue-health/:projectId
func QueueHealth(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, svc); !ok {
		return
	}
	projectID, ok := parseIDParam(c, "projectId")
	if !ok {
		return
	}

	health, err := svc.Queues.QueueHealth(c.Request.Context(), projectID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, health)
}

// MyCurrentOrder handles GET /api/v1/workflow/my-current - data is null when idle
func MyCurrentOrder(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	order, err := svc.CurrentOrder(c.Request.Context(), user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// WorkItems handles GET /api/v1/workflow/work-items/:orderId - the order's ledger
func WorkItems(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, svc); !ok {
		return
	}
	orderID, ok := parseIDParam(c, "orderId")
	if !ok {
		return
	}

	items, err := svc.WorkHistory(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, items)
}
