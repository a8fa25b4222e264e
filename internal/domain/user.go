package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
	StatusDeleted   UserStatus = "DELETED"
)

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:100;not null" json:"-"`
	Nickname     string     `gorm:"size:40;uniqueIndex;not null" json:"nickname"`
	Role         UserRole   `gorm:"size:20;not null;default:USER" json:"role"`
	Status       UserStatus `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Sessions []Session `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (u *User) IsActive() bool { return u.Status == StatusActive }
