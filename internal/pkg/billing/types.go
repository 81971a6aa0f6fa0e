package billing

// PaymentConfirmation is a provider-neutral view of an external payment
// confirmation event: which user paid for which pricing plan. Gateway
// protocol details stay outside this core.
type PaymentConfirmation struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderEventID string `json:"provider_event_id"`
	UserID          uint   `json:"user_id" validate:"required"`
	PlanID          uint   `json:"plan_id" validate:"required"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	PayloadJSON     string `json:"-"`
}
