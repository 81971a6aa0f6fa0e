package models

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	PLAN_FREE         = "free"
	PLAN_CREDIT       = "credit"
	PLAN_SUBSCRIPTION = "subscription"

	KEY_STATUS_ACTIVE    = "active"
	KEY_STATUS_SUSPENDED = "suspended"

	// FreeDailyCredit is the daily allotment a free key is topped up to.
	FreeDailyCredit int64 = 10

	// MaxDeviceBindings caps how many distinct devices a key can be bound to.
	MaxDeviceBindings = 2

	// CreditUnlimited is the sentinel balance for subscription keys. It is
	// never decremented.
	CreditUnlimited int64 = -1

	// DailyRetentionDays is the lookback window kept in DailyProcess.
	DailyRetentionDays = 3
)

var (
	ErrDeviceLimitReached = errors.New("device limit reached, contact support to reset bindings")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidUnitCount   = errors.New("unit count must be a positive integer")
	ErrAlreadySuspended   = errors.New("app key is already suspended")
	ErrNotSuspended       = errors.New("app key is not suspended")
)

const (
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"
)

// timeNow is swapped out by tests that need to control the day boundary.
var timeNow = time.Now

// dayLocation is the timezone used for day/month bucketing and the daily
// credit refresh. Configured once at bootstrap, UTC by default.
var dayLocation = time.UTC

// SetDayLocation configures the timezone used for day-boundary calculations.
func SetDayLocation(loc *time.Location) {
	if loc != nil {
		dayLocation = loc
	}
}

// DayLocation returns the configured day-boundary timezone.
func DayLocation() *time.Location {
	return dayLocation
}

// Today returns the current calendar day string in the configured timezone.
func Today() string {
	return timeNow().In(dayLocation).Format(dayFormat)
}

// CurrentMonth returns the current calendar month string in the configured timezone.
func CurrentMonth() string {
	return timeNow().In(dayLocation).Format(monthFormat)
}

// AppKey is the entitlement record governing what one credential may do:
// plan, credit balance, device bindings and usage counters. One record per
// user, one opaque key per record.
type AppKey struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UserID            uint           `gorm:"uniqueIndex;not null" json:"user_id"`
	Key               string         `gorm:"uniqueIndex;type:varchar(64);not null" json:"key"`
	KeyPrefix         string         `gorm:"type:varchar(20);default:''" json:"key_prefix"`
	PlanType          string         `gorm:"type:varchar(20);default:'free'" json:"plan_type" validate:"oneof=free credit subscription"`
	PlanID            *uint          `gorm:"index" json:"plan_id"`
	Credit            int64          `gorm:"not null;default:10" json:"credit"`
	Status            string         `gorm:"type:varchar(20);default:'active'" json:"status" validate:"oneof=active suspended"`
	SuspendedAt       *time.Time     `gorm:"type:timestamp;default:null" json:"suspended_at"`
	IsActive          bool           `gorm:"default:true" json:"is_active"`
	ExpiresAt         *time.Time     `gorm:"type:timestamp;default:null;index" json:"expires_at"`
	DeviceBindings    DeviceList     `gorm:"type:json" json:"device_bindings"`
	ActiveDeviceID    string         `gorm:"type:varchar(191);default:''" json:"active_device_id"`
	LastCreditRefresh string         `gorm:"type:varchar(10);default:''" json:"last_credit_refresh"`
	TotalProcess      int64          `gorm:"not null;default:0" json:"total_process"`
	RequestCount      int64          `gorm:"not null;default:0" json:"request_count"`
	DailyProcess      UsageMap       `gorm:"type:json" json:"daily_process"`
	MonthlyProcess    UsageMap       `gorm:"type:json" json:"monthly_process"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

var appKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const appKeyPrefix = "pm_"

// NewAppKey provisions a default entitlement record for a user: free plan,
// daily credit allotment, no expiry, no device bindings.
func NewAppKey(userID uint) (*AppKey, error) {
	raw, prefix, err := generateAppKeyMaterial()
	if err != nil {
		return nil, err
	}
	k := &AppKey{
		UserID:            userID,
		Key:               raw,
		KeyPrefix:         prefix,
		PlanType:          PLAN_FREE,
		Credit:            FreeDailyCredit,
		Status:            KEY_STATUS_ACTIVE,
		IsActive:          true,
		DeviceBindings:    DeviceList{},
		LastCreditRefresh: Today(),
		DailyProcess:      UsageMap{},
		MonthlyProcess:    UsageMap{},
	}
	k.ensureUsageBuckets()
	return k, nil
}

func generateAppKeyMaterial() (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	encoded := strings.ToLower(appKeyEncoding.EncodeToString(b))
	raw := appKeyPrefix + encoded
	if len(raw) < 12 {
		return "", "", fmt.Errorf("app key generation failed: key too short")
	}
	prefix := raw[:min(len(raw), 12)]
	return raw, prefix, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsSubscription reports whether the key is on the unlimited subscription plan.
func (k *AppKey) IsSubscription() bool {
	return k.PlanType == PLAN_SUBSCRIPTION
}

// IsExpired reports whether a non-free plan has passed its expiry. Free keys
// never expire (they carry no ExpiresAt by invariant).
func (k *AppKey) IsExpired() bool {
	if k.PlanType == PLAN_FREE || k.ExpiresAt == nil {
		return false
	}
	return !k.ExpiresAt.After(timeNow())
}

// IsSuspended reports whether the key is administratively suspended.
func (k *AppKey) IsSuspended() bool {
	return k.Status == KEY_STATUS_SUSPENDED
}

// SetPlan replaces the whole plan shape at once. Downgrading to free always
// resets credit to the daily allotment and clears expiry regardless of the
// prior balance.
func (k *AppKey) SetPlan(planType string, planID *uint, credit int64, expiresAt *time.Time) {
	k.PlanType = planType
	k.PlanID = planID
	switch planType {
	case PLAN_FREE:
		k.PlanID = nil
		k.Credit = FreeDailyCredit
		k.ExpiresAt = nil
		k.LastCreditRefresh = Today()
	case PLAN_SUBSCRIPTION:
		k.Credit = CreditUnlimited
		k.ExpiresAt = expiresAt
	default:
		k.Credit = credit
		k.ExpiresAt = expiresAt
	}
	k.ensureUsageBuckets()
}

// DowngradeToFree resets the key to the default free plan: daily credit
// allotment, no plan reference, no expiry. Today's and this month's usage
// buckets are initialized so reporting never shows gaps.
func (k *AppKey) DowngradeToFree() {
	k.SetPlan(PLAN_FREE, nil, FreeDailyCredit, nil)
}

// RefreshCredits tops a free key back up to the daily allotment when the
// last refresh did not happen today. Returns true when it mutated the record.
func (k *AppKey) RefreshCredits() bool {
	if k.PlanType != PLAN_FREE {
		return false
	}
	today := Today()
	if k.LastCreditRefresh == today {
		return false
	}
	k.Credit = FreeDailyCredit
	k.LastCreditRefresh = today
	k.ensureUsageBuckets()
	return true
}

// Reconcile applies the lazy maintenance rules every validity check relies
// on: an expired non-free plan is downgraded to free in place, then the free
// daily credit refresh runs. This is the single mutation point behind the
// read-like checks; callers persist the record when it returns true.
func (k *AppKey) Reconcile() bool {
	changed := false
	if k.IsExpired() {
		k.DowngradeToFree()
		changed = true
	}
	if k.RefreshCredits() {
		changed = true
	}
	return changed
}

// IsValid reports whether the key may be used at all. It runs Reconcile
// first, so calling it can mutate the record (see Reconcile).
func (k *AppKey) IsValid() bool {
	k.Reconcile()
	return k.IsActive && k.Status == KEY_STATUS_ACTIVE
}

// CanProcess reports whether the key can pay for count units. A non-positive
// count returns false without touching the record. Subscription keys are
// unlimited.
func (k *AppKey) CanProcess(count int64) bool {
	if count <= 0 {
		return false
	}
	k.Reconcile()
	if k.IsSubscription() {
		return true
	}
	return k.Credit >= count
}

// UseCredit debits count units and records the usage. The balance is checked
// before any mutation; there is no partial debit. Subscription keys skip the
// debit but still record usage.
func (k *AppKey) UseCredit(count int64) error {
	if count <= 0 {
		return ErrInvalidUnitCount
	}
	if !k.CanProcess(count) {
		return ErrInsufficientCredit
	}
	if !k.IsSubscription() {
		k.Credit -= count
	}
	k.RecordUsage(count)
	return nil
}

// RecordUsage increments the lifetime total plus today's and this month's
// buckets, then prunes the daily map to the retention window. The monthly
// map is never pruned (it feeds long-running reports).
func (k *AppKey) RecordUsage(count int64) {
	k.TotalProcess += count
	k.DailyProcess.Add(Today(), count)
	k.MonthlyProcess.Add(CurrentMonth(), count)
	k.pruneDailyProcess()
}

// pruneDailyProcess keeps only the days inside the lookback window from
// today. Days outside the window are removed even when the map has gaps.
func (k *AppKey) pruneDailyProcess() {
	now := timeNow().In(dayLocation)
	allowed := make(map[string]struct{}, DailyRetentionDays)
	for i := 0; i < DailyRetentionDays; i++ {
		allowed[now.AddDate(0, 0, -i).Format(dayFormat)] = struct{}{}
	}
	k.DailyProcess.Retain(allowed)
}

func (k *AppKey) ensureUsageBuckets() {
	k.DailyProcess.Ensure(Today())
	k.MonthlyProcess.Ensure(CurrentMonth())
}

// BindDevice enforces the device binding policy: rebinding a known device is
// idempotent, a new device is added while there is room, and a third
// distinct device is refused without evicting existing bindings.
func (k *AppKey) BindDevice(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("device id is required")
	}
	if k.DeviceBindings.Contains(deviceID) {
		k.ActiveDeviceID = deviceID
		return nil
	}
	if len(k.DeviceBindings) >= MaxDeviceBindings {
		return ErrDeviceLimitReached
	}
	k.DeviceBindings = append(k.DeviceBindings, deviceID)
	k.ActiveDeviceID = deviceID
	return nil
}

// ResetDevices clears all bindings unconditionally.
func (k *AppKey) ResetDevices() {
	k.DeviceBindings = DeviceList{}
	k.ActiveDeviceID = ""
}

// Suspend marks the key suspended. Suspending an already-suspended key is an
// error, not a silent no-op.
func (k *AppKey) Suspend() error {
	if k.IsSuspended() {
		return ErrAlreadySuspended
	}
	now := timeNow()
	k.Status = KEY_STATUS_SUSPENDED
	k.SuspendedAt = &now
	return nil
}

// Reactivate clears a suspension. Reactivating a non-suspended key is an error.
func (k *AppKey) Reactivate() error {
	if !k.IsSuspended() {
		return ErrNotSuspended
	}
	k.Status = KEY_STATUS_ACTIVE
	k.SuspendedAt = nil
	return nil
}

// DaysUntilExpiry returns the whole days remaining until expiry, rounded up,
// or nil when the key carries no expiry.
func (k *AppKey) DaysUntilExpiry() *int {
	if k.ExpiresAt == nil {
		return nil
	}
	remaining := k.ExpiresAt.Sub(timeNow())
	days := int((remaining + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return &days
}
