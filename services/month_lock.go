package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Roles allowed to lock and unlock invoicing periods
var (
	lockRoles   = []string{models.RoleOperationsManager, models.RoleCEO, models.RoleAdmin}
	unlockRoles = []string{models.RoleAdmin}
)

// InvoiceSnapshot is exported to storage when a month is locked
type InvoiceSnapshot struct {
	ProjectID       uint                           `json:"project_id"`
	Month           int                            `json:"month"`
	Year            int                            `json:"year"`
	LockedAt        time.Time                      `json:"locked_at"`
	StateCounts     map[models.WorkflowState]int64 `json:"state_counts"`
	DeliveredOrders []string                       `json:"delivered_orders"`
}

// MonthLockGate blocks workflow changes to orders in invoiced months
type MonthLockGate struct {
	db        *gorm.DB
	snapshots SnapshotStorage
	log       zerolog.Logger
}

// NewMonthLockGate creates a new gate; snapshots may be nil
func NewMonthLockGate(db *gorm.DB, snapshots SnapshotStorage, log zerolog.Logger) *MonthLockGate {
	return &MonthLockGate{db: db, snapshots: snapshots, log: log}
}

func (g *MonthLockGate) withTx(tx *gorm.DB) *MonthLockGate {
	return &MonthLockGate{db: tx, snapshots: g.snapshots, log: g.log}
}

// Lock freezes the project's month. Locking an already locked month returns the existing lock.
func (g *MonthLockGate) Lock(ctx context.Context, actor *models.User, projectID uint, month, year int) (*models.MonthLock, error) {
	if !actor.HasRole(lockRoles...) {
		return nil, newError(CodeForbidden, "role %s cannot lock invoicing periods", actor.Role)
	}
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}
	if _, err := findProject(ctx, g.db, projectID); err != nil {
		return nil, err
	}

	existing, err := g.find(ctx, projectID, month, year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	lock := models.MonthLock{
		ProjectID: projectID,
		Month:     month,
		Year:      year,
		LockedAt:  time.Now().UTC(),
		LockedBy:  actor.ID,
	}
	if err := g.db.WithContext(ctx).Create(&lock).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost a race with another lock request for the same period
			if existing, findErr := g.find(ctx, projectID, month, year); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to lock month: %w", err)
	}

	g.log.Info().
		Uint("project_id", projectID).
		Int("month", month).
		Int("year", year).
		Uint("locked_by", actor.ID).
		Msg("Invoicing period locked")

	if g.snapshots != nil {
		key, err := g.exportSnapshot(ctx, &lock)
		if err != nil {
			// The lock stands; the snapshot can be regenerated from the frozen orders
			g.log.Warn().Err(err).Uint("project_id", projectID).Int("month", month).Int("year", year).Msg("Invoice snapshot export failed")
		} else {
			lock.SnapshotKey = &key
			if err := g.db.WithContext(ctx).Model(&lock).Update("snapshot_key", key).Error; err != nil {
				return nil, fmt.Errorf("failed to record snapshot key: %w", err)
			}
		}
	}

	return &lock, nil
}

// Unlock reopens a locked month
func (g *MonthLockGate) Unlock(ctx context.Context, actor *models.User, projectID uint, month, year int) error {
	if !actor.HasRole(unlockRoles...) {
		return newError(CodeForbidden, "role %s cannot unlock invoicing periods", actor.Role)
	}
	if err := validatePeriod(month, year); err != nil {
		return err
	}
	res := g.db.WithContext(ctx).
		Where("project_id = ? AND month = ? AND year = ?", projectID, month, year).
		Delete(&models.MonthLock{})
	if res.Error != nil {
		return fmt.Errorf("failed to unlock month: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(CodeNotFound, "project %d has no lock for %02d/%d", projectID, month, year)
	}
	g.log.Info().Uint("project_id", projectID).Int("month", month).Int("year", year).Msg("Invoicing period unlocked")
	return nil
}

// IsLocked reports whether the month containing date is locked for the project
func (g *MonthLockGate) IsLocked(ctx context.Context, projectID uint, date time.Time) (bool, error) {
	date = date.UTC()
	var count int64
	if err := g.db.WithContext(ctx).
		Model(&models.MonthLock{}).
		Where("project_id = ? AND month = ? AND year = ?", projectID, int(date.Month()), date.Year()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check month lock: %w", err)
	}
	return count > 0, nil
}

// List returns the project's locks, most recent period first
func (g *MonthLockGate) List(ctx context.Context, projectID uint) ([]models.MonthLock, error) {
	var locks []models.MonthLock
	if err := g.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("year DESC, month DESC").
		Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("failed to list month locks: %w", err)
	}
	return locks, nil
}

func (g *MonthLockGate) find(ctx context.Context, projectID uint, month, year int) (*models.MonthLock, error) {
	var lock models.MonthLock
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND month = ? AND year = ?", projectID, month, year).
		First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load month lock: %w", err)
	}
	return &lock, nil
}

// BuildSnapshot summarizes the orders received in the locked period
func (g *MonthLockGate) BuildSnapshot(ctx context.Context, lock *models.MonthLock) (*InvoiceSnapshot, error) {
	start, end := periodBounds(lock.Month, lock.Year)

	var counts []stateCount
	if err := g.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("workflow_state, COUNT(*) AS total").
		Where("project_id = ? AND received_at >= ? AND received_at < ?", lock.ProjectID, start, end).
		Group("workflow_state").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count period orders: %w", err)
	}

	var delivered []string
	if err := g.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("project_id = ? AND received_at >= ? AND received_at < ? AND workflow_state = ?",
			lock.ProjectID, start, end, models.StateDelivered).
		Order("order_number ASC").
		Pluck("order_number", &delivered).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivered orders: %w", err)
	}

	snapshot := &InvoiceSnapshot{
		ProjectID:       lock.ProjectID,
		Month:           lock.Month,
		Year:            lock.Year,
		LockedAt:        lock.LockedAt,
		StateCounts:     make(map[models.WorkflowState]int64, len(counts)),
		DeliveredOrders: delivered,
	}
	for _, c := range counts {
		snapshot.StateCounts[c.WorkflowState] = c.Total
	}
	if snapshot.DeliveredOrders == nil {
		snapshot.DeliveredOrders = []string{}
	}
	return snapshot, nil
}

func (g *MonthLockGate) exportSnapshot(ctx context.Context, lock *models.MonthLock) (string, error) {
	snapshot, err := g.BuildSnapshot(ctx, lock)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	key := fmt.Sprintf("invoice-snapshots/project-%d/%04d-%02d-%s.json", lock.ProjectID, lock.Year, lock.Month, uuid.NewString())
	if err := g.snapshots.PutSnapshot(ctx, key, body); err != nil {
		return "", err
	}
	return key, nil
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return newError(CodeValidation, "month must be between 1 and 12")
	}
	if year < 2000 || year > 9999 {
		return newError(CodeValidation, "year %d is out of range", year)
	}
	return nil
}

// periodBounds returns [first instant of the month, first instant of the next month) in UTC
func periodBounds(month, year int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// SnapshotURL returns a temporary download link for the lock's invoice snapshot,
// or "" when none was exported.
func (g *MonthLockGate) SnapshotURL(ctx context.Context, lock *models.MonthLock) (string, error) {
	if g.snapshots == nil || lock.SnapshotKey == nil {
		return "", nil
	}
	return g.snapshots.GetPresignedURL(ctx, *lock.SnapshotKey)
}
