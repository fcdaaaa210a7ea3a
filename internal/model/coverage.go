package model

import (
	"time"

	"gorm.io/gorm"
)

// Coverage is the tenant descriptor kept in the public schema. Each coverage
// owns an isolated database schema holding its sensor and sink tables.
// Name and SchemaName are immutable once created.
type Coverage struct {
	ID         string `json:"id" gorm:"type:varchar(50);primaryKey"`
	Name       string `json:"name" gorm:"type:varchar(50);uniqueIndex;not null"`
	SchemaName string `json:"schema_name" gorm:"type:varchar(50);uniqueIndex"`
	// Provisioned flips to true only after the schema and its tables exist.
	// A descriptor left unprovisioned is never routable.
	Provisioned bool      `json:"provisioned" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Coverage) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}
