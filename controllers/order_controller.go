package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/gin-gonic/gin"
)

// IntakeOrderRequest represents an order handed over by the import pipeline
type IntakeOrderRequest struct {
	OrderNumber     string     `json:"order_number" binding:"required"`
	ProjectID       uint       `json:"project_id" binding:"required"`
	Priority        string     `json:"priority"`
	DueDate         *time.Time `json:"due_date"`
	ClientReference string     `json:"client_reference"`
	InitialLayer    string     `json:"initial_layer"`
	ReceivedAt      *time.Time `json:"received_at"`
}

func (r IntakeOrderRequest) input() (services.CreateOrderInput, bool) {
	input := services.CreateOrderInput{
		OrderNumber:     r.OrderNumber,
		ProjectID:       r.ProjectID,
		Priority:        r.Priority,
		DueDate:         r.DueDate,
		ClientReference: r.ClientReference,
		ReceivedAt:      r.ReceivedAt,
	}
	if r.InitialLayer != "" {
		layer, ok := models.ParseLayer(r.InitialLayer)
		if !ok {
			return input, false
		}
		input.InitialLayer = layer
	}
	return input, true
}

// IntakeOrder handles POST /api/v1/orders - a supervisor registers an order and queues it
func IntakeOrder(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	var req IntakeOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	input, ok := req.input()
	if !ok {
		respondError(c, http.StatusBadRequest, string(services.CodeInvalidLayer), "Unknown initial_layer")
		return
	}

	order, err := svc.IntakeOrder(c.Request.Context(), user, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, order)
}

// ImportOrder handles POST /api/v1/orders/import - the import pipeline's machine intake
func ImportOrder(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}

	var req IntakeOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	input, ok := req.input()
	if !ok {
		respondError(c, http.StatusBadRequest, string(services.CodeInvalidLayer), "Unknown initial_layer")
		return
	}

	order, err := svc.ImportOrder(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders - filtered, paginated order listing
func ListOrders(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, svc); !ok {
		return
	}

	// Parse pagination parameters
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 10
	}

	filter := services.OrderFilter{
		WorkflowState: models.WorkflowState(c.Query("state")),
		Limit:         limit,
		Offset:        (page - 1) * limit,
	}
	if raw := c.Query("project_id"); raw != "" {
		projectID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid project_id")
			return
		}
		filter.ProjectID = uint(projectID)
	}
	if raw := c.Query("assigned_to"); raw != "" {
		userID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid assigned_to")
			return
		}
		assignee := uint(userID)
		filter.AssignedTo = &assignee
	}

	ctx := c.Request.Context()
	total, err := svc.Orders.Count(ctx, filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	orders, err := svc.Orders.List(ctx, filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orders,
		"pagination": gin.H{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

// GetOrder handles GET /api/v1/orders/:id
func GetOrder(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, svc); !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	order, err := svc.Orders.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}
