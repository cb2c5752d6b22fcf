package controllers

import (
	"errors"
	"net/http"

	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/gin-gonic/gin"
)

// UpdateUserRequest represents the request body for updating a user profile
type UpdateUserRequest struct {
	Name  string `json:"name" binding:"omitempty"`
	Email string `json:"email" binding:"omitempty,email"`
}

// GetMyProfile handles GET /api/v1/users/me - gets current user's profile
func GetMyProfile(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, user)
}

// UpdateMyProfile handles PUT /api/v1/users/me - updates current user's profile.
// Roles are managed by the identity system and cannot be changed here.
func UpdateMyProfile(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	updated, err := svc.UpdateProfile(c.Request.Context(), user, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			respondError(c, http.StatusConflict, "EMAIL_EXISTS", "A user with this email already exists")
			return
		}
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, updated)
}
