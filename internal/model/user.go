package model

import (
	"time"

	"gorm.io/gorm"
)

// User lives in the public schema. A non-admin user is bound to exactly one
// coverage; only admins may have no coverage. The password column holds a
// bcrypt hash and is never serialized.
type User struct {
	ID         string    `json:"id" gorm:"type:varchar(50);primaryKey"`
	Email      string    `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	Password   string    `json:"-" gorm:"type:varchar(255)"`
	IsAdmin    bool      `json:"is_admin" gorm:"default:false"`
	CoverageID *string   `json:"coverage_id,omitempty" gorm:"type:varchar(50);index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	return nil
}
