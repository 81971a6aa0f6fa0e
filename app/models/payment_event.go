package models

import "time"

// PaymentEvent stores one external payment confirmation per provider event
// id so webhook deliveries can be applied idempotently.
type PaymentEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(50);not null;uniqueIndex:uniq_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:uniq_provider_event,priority:2" json:"provider_event_id"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	PlanID          uint       `gorm:"not null" json:"plan_id"`
	AmountCents     int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency        string     `gorm:"type:varchar(10);default:'BDT'" json:"currency"`
	PayloadJSON     string     `gorm:"type:json" json:"-"`
	ProcessedAt     *time.Time `json:"processed_at"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
