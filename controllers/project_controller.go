package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateProjectRequest represents the request body for creating a project
type CreateProjectRequest struct {
	Name           string   `json:"name" binding:"required"`
	Department     string   `json:"department"`
	WorkflowLayers []string `json:"workflow_layers" binding:"required"`
}

// CreateProject handles POST /api/v1/projects
func CreateProject(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if !bindJSON(c, &req) {
		return
	}

	project, err := svc.CreateProject(c.Request.Context(), user, req.Name, req.Department, req.WorkflowLayers)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, project)
}

// GetProject handles GET /api/v1/projects/:id
func GetProject(c *gin.Context) {
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

	project, err := svc.GetProject(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, project)
}
