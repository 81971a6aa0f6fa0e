package apiv1

import "time"

// UnitsRequest carries the unit count for validate and commit calls.
type UnitsRequest struct {
	Units int64 `json:"units" validate:"required,gt=0"`
}

// CreateUserRequest registers an account that owns an entitlement record.
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// CreateKeyRequest provisions an entitlement record for a user.
type CreateKeyRequest struct {
	UserID uint `json:"user_id" validate:"required,gt=0"`
}

// AssignPlanRequest puts a key on a pricing plan, or back on free.
type AssignPlanRequest struct {
	PlanID   uint   `json:"plan_id"`
	PlanType string `json:"plan_type" validate:"omitempty,oneof=free credit subscription"`
}

// TopUpRequest adds prepaid units to a metered key.
type TopUpRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// ExtendExpiryRequest pushes a key's expiry out by whole days.
type ExtendExpiryRequest struct {
	Days int `json:"days" validate:"required,gt=0"`
}

// ScheduleOneTimeRequest registers an out-of-cycle maintenance run.
type ScheduleOneTimeRequest struct {
	At time.Time `json:"at" validate:"required"`
}

// PaymentWebhookRequest is the external payment confirmation payload.
type PaymentWebhookRequest struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderEventID string `json:"provider_event_id"`
	UserID          uint   `json:"user_id" validate:"required,gt=0"`
	PlanID          uint   `json:"plan_id" validate:"required,gt=0"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}
