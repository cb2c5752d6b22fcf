package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benchmark-ops/order-workflow-api/models"
)

// ErrorCode classifies a workflow failure; the value is the wire error code
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeNotQueued         ErrorCode = "NOT_QUEUED"
	CodeNotOwner          ErrorCode = "NOT_OWNER"
	CodeAlreadyAssigned   ErrorCode = "ALREADY_ASSIGNED"
	CodeInvalidReason     ErrorCode = "INVALID_REASON"
	CodePeriodLocked      ErrorCode = "PERIOD_LOCKED"
	CodeInvalidLayer      ErrorCode = "INVALID_LAYER"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
)

// WorkflowError is returned for every expected workflow failure.
// Order holds the order's current state when the failure concerns an order.
type WorkflowError struct {
	Code    ErrorCode
	Message string
	Order   *models.Order
}

func (e *WorkflowError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Is matches any WorkflowError carrying the same code
func (e *WorkflowError) Is(target error) bool {
	var t *WorkflowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrNotFound          = &WorkflowError{Code: CodeNotFound}
	ErrConflict          = &WorkflowError{Code: CodeConflict}
	ErrInvalidTransition = &WorkflowError{Code: CodeInvalidTransition}
	ErrNotQueued         = &WorkflowError{Code: CodeNotQueued}
	ErrNotOwner          = &WorkflowError{Code: CodeNotOwner}
	ErrAlreadyAssigned   = &WorkflowError{Code: CodeAlreadyAssigned}
	ErrInvalidReason     = &WorkflowError{Code: CodeInvalidReason}
	ErrPeriodLocked      = &WorkflowError{Code: CodePeriodLocked}
	ErrInvalidLayer      = &WorkflowError{Code: CodeInvalidLayer}
	ErrForbidden         = &WorkflowError{Code: CodeForbidden}
	ErrValidation        = &WorkflowError{Code: CodeValidation}
)

func newError(code ErrorCode, format string, args ...interface{}) *WorkflowError {
	return &WorkflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsWorkflowError extracts a WorkflowError from err
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// isUniqueViolation works with both PostgreSQL and SQLite error texts
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique")
}
