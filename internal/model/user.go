package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an authenticated actor. Role holds the user's department
// (SELLER, BILLING, COMMERCIAL, CREDIT, ADMIN); roles are assigned, not
// derived. ManagerID points at the user notified alongside a requester
// when one of their requests is rejected.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username  string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email     string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"type:varchar(255);not null" json:"-"`
	Role      string         `gorm:"type:varchar(20);not null" json:"role"`
	ManagerID *uuid.UUID     `gorm:"type:uuid" json:"manager_id,omitempty"`
	Manager   *User          `gorm:"foreignKey:ManagerID" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// RefreshToken stores long-lived opaque tokens allowing users to request
// new access tokens. Tokens rotate on every refresh.
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ValidDepartment reports whether a role string is a known department.
func ValidDepartment(role string) bool {
	switch role {
	case DeptSeller, DeptBilling, DeptCommercial, DeptCredit, DeptAdmin:
		return true
	}
	return false
}
