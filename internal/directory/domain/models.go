package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type BusinessStatus string

const (
	BusinessStatusActive    BusinessStatus = "ACTIVE"
	BusinessStatusSuspended BusinessStatus = "SUSPENDED"
)

type Business struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:text;not null" json:"name"`
	Status    BusinessStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (Business) TableName() string { return "businesses" }

type BusinessLocation struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	IsActive   bool         `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (BusinessLocation) TableName() string { return "business_locations" }

// BusinessMember links a user to a business with a staff or owner role.
type BusinessMember struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;uniqueIndex:ux_business_members_user,priority:1" json:"business_id"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:ux_business_members_user,priority:2" json:"user_id"`
	Role       string       `gorm:"type:text;not null" json:"role"`
	IsActive   bool         `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (BusinessMember) TableName() string { return "business_members" }

type Consumer struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	DisplayName string       `gorm:"type:text;not null" json:"display_name"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (Consumer) TableName() string { return "consumers" }
