package models

import (
	"time"

	"gorm.io/gorm"
)

// User roles
const (
	RoleDrawer            = "drawer"
	RoleChecker           = "checker"
	RoleQA                = "qa"
	RoleDesigner          = "designer"
	RoleSupervisor        = "supervisor"
	RoleOperationsManager = "operations_manager"
	RoleCEO               = "ceo"
	RoleAdmin             = "admin"
)

// User represents a staff member (worker or manager); provisioned by the identity system
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Auth0ID   string         `gorm:"uniqueIndex;not null" json:"auth0_id"` // Auth0 user ID (from 'sub' claim)
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Role      string         `gorm:"not null;default:'drawer'" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

// HasRole reports whether the user holds one of the given roles
func (u *User) HasRole(roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// CanWork reports whether the user may take orders from the given layer
func (u *User) CanWork(l Layer) bool {
	if u.Role == RoleAdmin {
		return true
	}
	return u.Role == string(l)
}
