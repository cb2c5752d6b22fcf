package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/benchmark-ops/order-workflow-api/middleware"
	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statusForCode maps workflow error codes onto HTTP statuses
var statusForCode = map[services.ErrorCode]int{
	services.CodeNotFound:          http.StatusNotFound,
	services.CodeConflict:          http.StatusConflict,
	services.CodeInvalidTransition: http.StatusConflict,
	services.CodeNotQueued:         http.StatusConflict,
	services.CodeAlreadyAssigned:   http.StatusConflict,
	services.CodeNotOwner:          http.StatusForbidden,
	services.CodeForbidden:         http.StatusForbidden,
	services.CodeInvalidReason:     http.StatusBadRequest,
	services.CodeInvalidLayer:      http.StatusBadRequest,
	services.CodeValidation:        http.StatusBadRequest,
	services.CodePeriodLocked:      http.StatusLocked,
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError renders a service failure. Workflow errors keep their code
// and carry the order's current state when one is attached.
func respondServiceError(c *gin.Context, err error) {
	we, ok := services.AsWorkflowError(err)
	if !ok {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Unexpected service error")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	status, known := statusForCode[we.Code]
	if !known {
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"success": false,
		"error": gin.H{
			"code":    string(we.Code),
			"message": we.Error(),
		},
	}
	if we.Order != nil {
		body["order"] = we.Order
	}
	c.JSON(status, body)
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// workflowService returns the configured service or renders 503
func workflowService(c *gin.Context) (*services.WorkflowService, bool) {
	svc := services.GetWorkflowService()
	if svc == nil {
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Workflow service is not configured")
		return nil, false
	}
	return svc, true
}

// currentUser resolves the authenticated staff member
func currentUser(c *gin.Context, svc *services.WorkflowService) (*models.User, bool) {
	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user information")
		return nil, false
	}

	user, err := svc.FindUserByAuth0ID(c.Request.Context(), auth0ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "User profile not found")
			return nil, false
		}
		respondServiceError(c, err)
		return nil, false
	}
	return user, true
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// bindOptionalJSON binds the body when one is sent; an empty body leaves req untouched
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return false
	}
	return true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return false
	}
	return true
}
