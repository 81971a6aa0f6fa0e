package entitlements

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
)

// Service is the boundary around the entitlement state machine: per-request
// validation and usage commits, plus the admin operations. All errors it
// returns for domain conditions are *Error values.
type Service struct {
	keys  repository.AppKeyRepository
	plans repository.PricingPlanRepository
}

// NewService creates an entitlement service from injected repositories.
func NewService(keys repository.AppKeyRepository, plans repository.PricingPlanRepository) *Service {
	return &Service{keys: keys, plans: plans}
}

// NewServiceFromDB creates an entitlement service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(repository.NewAppKeyRepository(db), repository.NewPricingPlanRepository(db))
}

// PlanSnapshot is what a validate call reports back to the caller.
type PlanSnapshot struct {
	PlanType        string `json:"plan_type"`
	PlanID          *uint  `json:"plan_id,omitempty"`
	Credit          int64  `json:"credit"`
	Unlimited       bool   `json:"unlimited"`
	DeviceID        string `json:"device_id"`
	DaysUntilExpiry *int   `json:"days_until_expiry"`
	Status          string `json:"status"`
}

// UsageReport is what a commit call reports back: the updated plan plus the
// full usage ledger.
type UsageReport struct {
	PlanType       string          `json:"plan_type"`
	Credit         int64           `json:"credit"`
	Unlimited      bool            `json:"unlimited"`
	TotalProcess   int64           `json:"total_process"`
	DailyProcess   models.UsageMap `json:"daily_process"`
	MonthlyProcess models.UsageMap `json:"monthly_process"`
}

func snapshotOf(key *models.AppKey) *PlanSnapshot {
	return &PlanSnapshot{
		PlanType:        key.PlanType,
		PlanID:          key.PlanID,
		Credit:          key.Credit,
		Unlimited:       key.IsSubscription(),
		DeviceID:        key.ActiveDeviceID,
		DaysUntilExpiry: key.DaysUntilExpiry(),
		Status:          key.Status,
	}
}

// resolve loads the record, applies the lazy reconciliation, checks the
// operability gates and binds the device. The record comes back non-nil
// whenever it was loaded, even alongside an error, and dirty when
// reconciliation or binding mutated it; persisting is the caller's job.
func (s *Service) resolve(rawKey, deviceID string) (*models.AppKey, bool, error) {
	key, err := s.keys.GetByKey(rawKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, NewError(CodeNotFound, "app key not found")
		}
		return nil, false, err
	}

	changed := key.Reconcile()

	if key.IsSuspended() {
		return key, changed, NewError(CodeSuspended, "app key is suspended, contact support")
	}
	if !key.IsActive {
		return key, changed, NewError(CodeInvalid, "app key is disabled")
	}

	before := key.ActiveDeviceID
	beforeLen := len(key.DeviceBindings)
	if err := key.BindDevice(deviceID); err != nil {
		if errors.Is(err, models.ErrDeviceLimitReached) {
			return key, changed, NewError(CodeDeviceLimitExceeded, "device limit reached, contact support")
		}
		return key, changed, NewError(CodeInvalidInput, err.Error())
	}
	if key.ActiveDeviceID != before || len(key.DeviceBindings) != beforeLen {
		changed = true
	}

	return key, changed, nil
}

// ValidateAndReserve checks whether the key may process the requested units
// on the presented device and reports the resulting plan snapshot. The check
// is also a maintenance opportunity: expiry downgrade, credit refresh and
// device binding are persisted even though nothing is debited here.
func (s *Service) ValidateAndReserve(ctx context.Context, rawKey, deviceID string, units int64) (*PlanSnapshot, error) {
	_ = ctx
	if units <= 0 {
		return nil, NewError(CodeInvalidInput, "units must be a positive integer")
	}

	key, changed, rerr := s.resolve(rawKey, deviceID)
	if key != nil && changed {
		// Lazy maintenance persists even when the check fails afterwards.
		if err := s.keys.Update(key); err != nil {
			return nil, err
		}
	}
	if rerr != nil {
		return nil, rerr
	}

	if !key.IsSubscription() && key.Credit < units {
		return nil, NewInsufficientCredit(units, key.Credit)
	}
	return snapshotOf(key), nil
}

// CommitUsage debits the authorized units and records them in the usage
// ledger. Credit moves via a conditional update in the store, so a
// concurrent commit that drained the balance between validate and commit
// surfaces as insufficient credit rather than a negative balance.
func (s *Service) CommitUsage(ctx context.Context, rawKey, deviceID string, units int64) (*UsageReport, error) {
	_ = ctx
	if units <= 0 {
		return nil, NewError(CodeInvalidInput, "units must be a positive integer")
	}

	key, changed, rerr := s.resolve(rawKey, deviceID)
	if key != nil && changed {
		if err := s.keys.Update(key); err != nil {
			return nil, err
		}
	}
	if rerr != nil {
		return nil, rerr
	}

	if !key.IsSubscription() && key.Credit < units {
		return nil, NewInsufficientCredit(units, key.Credit)
	}

	// Stage the ledger update in memory; credit and lifetime total are
	// recomputed by the store inside the guarded update.
	key.RecordUsage(units)

	ok, err := s.keys.CommitUsage(key, units)
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, ferr := s.keys.GetByKey(rawKey)
		if ferr != nil {
			return nil, NewInsufficientCredit(units, 0)
		}
		return nil, NewInsufficientCredit(units, fresh.Credit)
	}

	return &UsageReport{
		PlanType:       key.PlanType,
		Credit:         key.Credit,
		Unlimited:      key.IsSubscription(),
		TotalProcess:   key.TotalProcess,
		DailyProcess:   key.DailyProcess,
		MonthlyProcess: key.MonthlyProcess,
	}, nil
}

// GetOrCreateKey returns the user's entitlement record, provisioning the
// default free record on first use.
func (s *Service) GetOrCreateKey(ctx context.Context, userID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.keys.GetByUserID(userID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	key, err = models.NewAppKey(userID)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Create(key); err != nil {
		return nil, err
	}
	return key, nil
}

// AssignPlan puts the key on a pricing plan: credit plans add the plan's
// prepaid balance, subscription plans replace the plan wholesale with a
// fresh expiry window.
func (s *Service) AssignPlan(ctx context.Context, keyID, planID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeNotFound, "pricing plan not found")
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, NewError(CodeInvalid, "pricing plan is not active")
	}

	now := time.Now()
	switch plan.PlanType {
	case models.PLAN_SUBSCRIPTION:
		expires := now.AddDate(0, 0, plan.DurationDays)
		key.SetPlan(models.PLAN_SUBSCRIPTION, &plan.ID, 0, &expires)
	case models.PLAN_CREDIT:
		credit := plan.CreditAmount
		if key.PlanType == models.PLAN_CREDIT && key.Credit > 0 {
			// Buying more credit stacks on a remaining balance.
			credit += key.Credit
		}
		var expires *time.Time
		if plan.DurationDays > 0 {
			e := now.AddDate(0, 0, plan.DurationDays)
			expires = &e
		}
		key.SetPlan(models.PLAN_CREDIT, &plan.ID, credit, expires)
	default:
		return nil, NewError(CodeInvalidInput, "pricing plan has an unknown plan type")
	}

	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// DowngradeToFree resets the key to the default free plan.
func (s *Service) DowngradeToFree(ctx context.Context, keyID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	key.DowngradeToFree()
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// TopUpCredit adds prepaid units to a metered key.
func (s *Service) TopUpCredit(ctx context.Context, keyID uint, amount int64) (*models.AppKey, error) {
	_ = ctx
	if amount <= 0 {
		return nil, NewError(CodeInvalidInput, "top-up amount must be a positive integer")
	}
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	if key.IsSubscription() {
		return nil, NewError(CodeInvalidInput, "subscription keys have no credit balance to top up")
	}
	key.Credit += amount
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ExtendExpiry pushes the expiry of a non-free key out by the given days,
// from the current expiry when it is still in the future, from now when it
// already lapsed.
func (s *Service) ExtendExpiry(ctx context.Context, keyID uint, days int) (*models.AppKey, error) {
	_ = ctx
	if days <= 0 {
		return nil, NewError(CodeInvalidInput, "extension days must be a positive integer")
	}
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	if key.PlanType == models.PLAN_FREE {
		return nil, NewError(CodeInvalidInput, "free keys carry no expiry to extend")
	}
	base := time.Now()
	if key.ExpiresAt != nil && key.ExpiresAt.After(base) {
		base = *key.ExpiresAt
	}
	expires := base.AddDate(0, 0, days)
	key.ExpiresAt = &expires
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Suspend marks the key suspended; suspending twice is an error.
func (s *Service) Suspend(ctx context.Context, keyID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	if err := key.Suspend(); err != nil {
		return nil, err
	}
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Reactivate clears a suspension; reactivating an active key is an error.
func (s *Service) Reactivate(ctx context.Context, keyID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	if err := key.Reactivate(); err != nil {
		return nil, err
	}
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ResetDevices clears all device bindings unconditionally.
func (s *Service) ResetDevices(ctx context.Context, keyID uint) (*models.AppKey, error) {
	_ = ctx
	key, err := s.getKey(keyID)
	if err != nil {
		return nil, err
	}
	key.ResetDevices()
	if err := s.keys.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeleteKey hard-deletes the record. Only explicit admin action reaches this.
func (s *Service) DeleteKey(ctx context.Context, keyID uint) error {
	_ = ctx
	if _, err := s.getKey(keyID); err != nil {
		return err
	}
	return s.keys.Delete(keyID)
}

func (s *Service) getKey(keyID uint) (*models.AppKey, error) {
	key, err := s.keys.GetByID(keyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeNotFound, "app key not found")
		}
		return nil, err
	}
	return key, nil
}
