package models

import (
	"time"

	"gorm.io/gorm"
)

// PricingPlan is an admin-managed plan definition that AppKey.PlanID can
// reference. Credit plans carry a prepaid balance, subscription plans a
// duration in days.
type PricingPlan struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	PlanType     string         `gorm:"type:varchar(20);not null" json:"plan_type" validate:"oneof=credit subscription"`
	CreditAmount int64          `gorm:"not null;default:0" json:"credit_amount"`
	DurationDays int            `gorm:"not null;default:0" json:"duration_days"`
	PriceCents   int64          `gorm:"not null;default:0" json:"price_cents"`
	Currency     string         `gorm:"type:varchar(10);default:'BDT'" json:"currency"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
