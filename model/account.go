package model

import (
	"time"

	"gorm.io/datatypes"
)

// Account status values.
const (
	AccountStatusBanned = 0
	AccountStatusNormal = 1
)

// RoleUser is granted to every registered account.
const RoleUser = "USER"

// RoleAdmin marks moderators.
const RoleAdmin = "ADMIN"

// Account is a registered identity.
type Account struct {
	ID           int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string                      `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email        string                      `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash string                      `gorm:"size:72;not null" json:"-"`
	Roles        datatypes.JSONSlice[string] `json:"roles"`
	Status       int                         `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt    time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt  *time.Time                  `json:"last_login_at"`
	LastLoginIP  string                      `gorm:"size:45" json:"last_login_ip"`
}

// Enabled reports whether the account may authenticate.
func (a *Account) Enabled() bool {
	return a.Status != AccountStatusBanned
}

// HasRole reports whether role is among the account's roles.
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
