package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
	"github.com/picmetahq/picmeta/internal/pkg/entitlements"
)

// Service applies external payment confirmations to entitlement records,
// idempotently per provider event id.
type Service struct {
	events repository.PaymentEventRepository
	keys   *entitlements.Service
}

// NewService creates a billing service from injected collaborators.
func NewService(events repository.PaymentEventRepository, keys *entitlements.Service) *Service {
	return &Service{events: events, keys: keys}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(repository.NewPaymentEventRepository(db), entitlements.NewServiceFromDB(db))
}

// ApplyPaymentConfirmation records the confirmation and upgrades or renews
// the payer's entitlement record accordingly. Redelivered events are
// recognized by provider event id and not applied twice; the bool reports
// whether this call changed anything.
func (s *Service) ApplyPaymentConfirmation(ctx context.Context, in PaymentConfirmation) (*models.AppKey, bool, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" || in.UserID == 0 || in.PlanID == 0 {
		return nil, false, errors.New("provider, user_id and plan_id are required")
	}

	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		UserID:          in.UserID,
		PlanID:          in.PlanID,
		AmountCents:     in.AmountCents,
		Currency:        strings.TrimSpace(in.Currency),
		PayloadJSON:     in.PayloadJSON,
	}
	created, stored, err := s.events.CreateIfNotExists(event)
	if err != nil {
		return nil, false, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Redelivery of an already-applied confirmation.
		key, err := s.keys.GetOrCreateKey(ctx, in.UserID)
		return key, false, err
	}

	key, err := s.keys.GetOrCreateKey(ctx, in.UserID)
	if err != nil {
		_ = s.events.MarkProcessed(stored.ID, err.Error())
		return nil, false, err
	}
	key, err = s.keys.AssignPlan(ctx, key.ID, in.PlanID)
	if err != nil {
		_ = s.events.MarkProcessed(stored.ID, err.Error())
		return nil, false, err
	}

	if err := s.events.MarkProcessed(stored.ID, ""); err != nil {
		return key, true, err
	}
	return key, true, nil
}
