package controllers

import (
	"net/http"
	"strconv"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MonthLockResponse is a lock plus a temporary link to its invoice snapshot
type MonthLockResponse struct {
	models.MonthLock
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

func parsePeriod(c *gin.Context) (month, year int, ok bool) {
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid month")
		return 0, 0, false
	}
	year, err = strconv.Atoi(c.Param("year"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid year")
		return 0, 0, false
	}
	return month, year, true
}

// LockMonth handles POST /api/v1/month-locks/:projectId/:month/:year
func LockMonth(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}
	projectID, ok := parseIDParam(c, "projectId")
	if !ok {
		return
	}
	month, year, ok := parsePeriod(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	lock, err := svc.MonthLocks.Lock(ctx, user, projectID, month, year)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := MonthLockResponse{MonthLock: *lock}
	url, err := svc.MonthLocks.SnapshotURL(ctx, lock)
	if err != nil {
		// The lock holds either way; the link can be fetched again from the list
		zerolog.Ctx(ctx).Warn().Err(err).Uint("month_lock_id", lock.ID).Msg("Failed to sign snapshot URL")
	}
	response.SnapshotURL = url

	respondOK(c, http.StatusOK, response)
}

// UnlockMonth handles DELETE /api/v1/month-locks/:projectId/:month/:year
func UnlockMonth(c *gin.Context) {
	svc, ok := workflowService(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, svc)
	if !ok {
		return
	}
	projectID, ok := parseIDParam(c, "projectId")
	if !ok {
		return
	}
	month, year, ok := parsePeriod(c)
	if !ok {
		return
	}

	if err := svc.MonthLocks.Unlock(c.Request.Context(), user, projectID, month, year); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Month unlocked",
	})
}

// ListMonthLocks handles GET /api/v1/month-locks/:projectId
func ListMonthLocks(c *gin.Context) {
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

	ctx := c.Request.Context()
	locks, err := svc.MonthLocks.List(ctx, projectID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	responses := make([]MonthLockResponse, 0, len(locks))
	for i := range locks {
		url, err := svc.MonthLocks.SnapshotURL(ctx, &locks[i])
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Uint("month_lock_id", locks[i].ID).Msg("Failed to sign snapshot URL")
		}
		responses = append(responses, MonthLockResponse{MonthLock: locks[i], SnapshotURL: url})
	}
	respondOK(c, http.StatusOK, responses)
}
