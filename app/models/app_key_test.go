package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setNow(t *testing.T, value time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return value }
	t.Cleanup(func() { timeNow = prev })
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	require.NoError(t, err)
	return ts
}

func TestNewAppKeyDefaults(t *testing.T) {
	setNow(t, mustDate(t, "2024-01-01 10:00:00"))

	k, err := NewAppKey(42)
	require.NoError(t, err)

	assert.Equal(t, uint(42), k.UserID)
	assert.True(t, len(k.Key) > 12)
	assert.Equal(t, k.Key[:12], k.KeyPrefix)
	assert.Equal(t, PLAN_FREE, k.PlanType)
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Nil(t, k.ExpiresAt)
	assert.Equal(t, "2024-01-01", k.LastCreditRefresh)
	assert.Equal(t, int64(0), k.DailyProcess.Get("2024-01-01"))
	assert.Contains(t, k.MonthlyProcess, "2024-01")
}

func TestAppKeyRefreshCreditsOncePerDay(t *testing.T) {
	setNow(t, mustDate(t, "2024-01-02 00:30:00"))

	k := &AppKey{
		PlanType:          PLAN_FREE,
		Credit:            3,
		LastCreditRefresh: "2024-01-01",
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
	}

	assert.True(t, k.RefreshCredits())
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Equal(t, "2024-01-02", k.LastCreditRefresh)

	// Burn some credit; a second refresh on the same day must be a no-op.
	k.Credit = 4
	assert.False(t, k.RefreshCredits())
	assert.Equal(t, int64(4), k.Credit)
}

func TestAppKeyRefreshCreditsIgnoresPaidPlans(t *testing.T) {
	setNow(t, mustDate(t, "2024-01-02 00:30:00"))

	k := &AppKey{PlanType: PLAN_CREDIT, Credit: 3, LastCreditRefresh: "2024-01-01"}
	assert.False(t, k.RefreshCredits())
	assert.Equal(t, int64(3), k.Credit)
}

func TestAppKeyCanProcessRefreshesOnNewDay(t *testing.T) {
	setNow(t, mustDate(t, "2024-01-02 08:00:00"))

	k := &AppKey{
		PlanType:          PLAN_FREE,
		Credit:            10,
		LastCreditRefresh: "2024-01-01",
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
	}

	assert.True(t, k.CanProcess(5))
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Equal(t, "2024-01-02", k.LastCreditRefresh)
}

func TestAppKeyExpiredSubscriptionDowngradesCompletely(t *testing.T) {
	now := mustDate(t, "2024-03-10 12:00:00")
	setNow(t, now)

	expired := now.Add(-24 * time.Hour)
	planID := uint(7)
	k := &AppKey{
		PlanType:  PLAN_SUBSCRIPTION,
		PlanID:    &planID,
		Credit:    CreditUnlimited,
		ExpiresAt: &expired,
		IsActive:  true,
		Status:    KEY_STATUS_ACTIVE,
	}

	assert.True(t, k.IsValid())
	assert.Equal(t, PLAN_FREE, k.PlanType)
	assert.Nil(t, k.PlanID)
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Nil(t, k.ExpiresAt)
	assert.Equal(t, int64(0), k.DailyProcess.Get("2024-03-10"))
	assert.Contains(t, k.MonthlyProcess, "2024-03")
}

func TestAppKeyExpiredCreditPlanDowngradesLikeSubscription(t *testing.T) {
	now := mustDate(t, "2024-03-10 12:00:00")
	setNow(t, now)

	expired := now.Add(-time.Minute)
	k := &AppKey{
		PlanType:  PLAN_CREDIT,
		Credit:    500,
		ExpiresAt: &expired,
		IsActive:  true,
		Status:    KEY_STATUS_ACTIVE,
	}

	assert.True(t, k.Reconcile())
	assert.Equal(t, PLAN_FREE, k.PlanType)
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Nil(t, k.ExpiresAt)
}

func TestAppKeyIsValidChecksStatusAndKillSwitch(t *testing.T) {
	setNow(t, mustDate(t, "2024-03-10 12:00:00"))

	k := &AppKey{PlanType: PLAN_FREE, Credit: 10, LastCreditRefresh: "2024-03-10", IsActive: true, Status: KEY_STATUS_ACTIVE}
	assert.True(t, k.IsValid())

	k.Status = KEY_STATUS_SUSPENDED
	assert.False(t, k.IsValid())

	k.Status = KEY_STATUS_ACTIVE
	k.IsActive = false
	assert.False(t, k.IsValid())
}

func TestAppKeyUseCreditInsufficientLeavesBalance(t *testing.T) {
	setNow(t, mustDate(t, "2024-03-10 12:00:00"))

	k := &AppKey{
		PlanType:          PLAN_CREDIT,
		Credit:            3,
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
		LastCreditRefresh: "2024-03-10",
	}

	err := k.UseCredit(5)
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	assert.Equal(t, int64(3), k.Credit)
	assert.Equal(t, int64(0), k.TotalProcess)
}

func TestAppKeyUseCreditRejectsInvalidCount(t *testing.T) {
	k := &AppKey{PlanType: PLAN_CREDIT, Credit: 3, IsActive: true, Status: KEY_STATUS_ACTIVE}

	assert.ErrorIs(t, k.UseCredit(0), ErrInvalidUnitCount)
	assert.ErrorIs(t, k.UseCredit(-4), ErrInvalidUnitCount)
	assert.Equal(t, int64(3), k.Credit)
	assert.False(t, k.CanProcess(0))
}

func TestAppKeyUseCreditDebitsAndRecords(t *testing.T) {
	setNow(t, mustDate(t, "2024-03-10 12:00:00"))

	k := &AppKey{
		PlanType:          PLAN_CREDIT,
		Credit:            8,
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
		LastCreditRefresh: "2024-03-10",
	}

	require.NoError(t, k.UseCredit(5))
	assert.Equal(t, int64(3), k.Credit)
	assert.Equal(t, int64(5), k.TotalProcess)
	assert.Equal(t, int64(5), k.DailyProcess.Get("2024-03-10"))
	assert.Equal(t, int64(5), k.MonthlyProcess.Get("2024-03"))
}

func TestAppKeySubscriptionNeverDebits(t *testing.T) {
	now := mustDate(t, "2024-03-10 12:00:00")
	setNow(t, now)

	future := now.Add(48 * time.Hour)
	k := &AppKey{
		PlanType:  PLAN_SUBSCRIPTION,
		Credit:    CreditUnlimited,
		ExpiresAt: &future,
		IsActive:  true,
		Status:    KEY_STATUS_ACTIVE,
	}

	assert.True(t, k.CanProcess(1_000_000))
	require.NoError(t, k.UseCredit(1_000_000))
	assert.Equal(t, CreditUnlimited, k.Credit)
	assert.Equal(t, int64(1_000_000), k.TotalProcess)
}

func TestAppKeyCreditNeverGoesNegative(t *testing.T) {
	setNow(t, mustDate(t, "2024-03-10 12:00:00"))

	k := &AppKey{
		PlanType:          PLAN_CREDIT,
		Credit:            20,
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
		LastCreditRefresh: "2024-03-10",
	}

	debits := []int64{7, 7, 7, 7}
	for _, n := range debits {
		err := k.UseCredit(n)
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientCredit)
		}
		assert.GreaterOrEqual(t, k.Credit, int64(0))
	}
	assert.Equal(t, int64(6), k.Credit)
	assert.Equal(t, int64(14), k.TotalProcess)
}

func TestAppKeyDeviceBindingPolicy(t *testing.T) {
	k := &AppKey{DeviceBindings: DeviceList{}}

	require.NoError(t, k.BindDevice("device-a"))
	assert.Equal(t, "device-a", k.ActiveDeviceID)

	// Rebinding the same id is idempotent.
	require.NoError(t, k.BindDevice("device-a"))
	assert.Len(t, k.DeviceBindings, 1)

	require.NoError(t, k.BindDevice("device-b"))
	assert.Equal(t, "device-b", k.ActiveDeviceID)
	assert.Len(t, k.DeviceBindings, 2)

	err := k.BindDevice("device-c")
	assert.ErrorIs(t, err, ErrDeviceLimitReached)
	assert.Equal(t, DeviceList{"device-a", "device-b"}, k.DeviceBindings)

	// A known device still binds after the cap is hit.
	require.NoError(t, k.BindDevice("device-a"))
	assert.Equal(t, "device-a", k.ActiveDeviceID)

	k.ResetDevices()
	assert.Empty(t, k.DeviceBindings)
	assert.Equal(t, "", k.ActiveDeviceID)
}

func TestAppKeyDailyProcessRetention(t *testing.T) {
	setNow(t, mustDate(t, "2024-03-10 12:00:00"))

	k := &AppKey{
		PlanType:          PLAN_CREDIT,
		Credit:            100,
		IsActive:          true,
		Status:            KEY_STATUS_ACTIVE,
		LastCreditRefresh: "2024-03-10",
		DailyProcess: UsageMap{
			"2024-03-01": 4,
			"2024-03-07": 2,
			"2024-03-08": 3,
			"2024-03-09": 1,
		},
	}

	k.RecordUsage(5)

	assert.LessOrEqual(t, len(k.DailyProcess), DailyRetentionDays)
	assert.Equal(t, int64(5), k.DailyProcess.Get("2024-03-10"))
	assert.Equal(t, int64(1), k.DailyProcess.Get("2024-03-09"))
	assert.Equal(t, int64(3), k.DailyProcess.Get("2024-03-08"))
	assert.NotContains(t, k.DailyProcess, "2024-03-07")
	assert.NotContains(t, k.DailyProcess, "2024-03-01")
}

func TestAppKeySuspendReactivateIdempotencyErrors(t *testing.T) {
	k := &AppKey{Status: KEY_STATUS_ACTIVE}

	require.NoError(t, k.Suspend())
	assert.NotNil(t, k.SuspendedAt)
	assert.ErrorIs(t, k.Suspend(), ErrAlreadySuspended)

	require.NoError(t, k.Reactivate())
	assert.Nil(t, k.SuspendedAt)
	assert.ErrorIs(t, k.Reactivate(), ErrNotSuspended)
}

func TestAppKeySetPlanReplacesWholeShape(t *testing.T) {
	now := mustDate(t, "2024-03-10 12:00:00")
	setNow(t, now)

	planID := uint(3)
	expires := now.AddDate(0, 1, 0)
	k := &AppKey{PlanType: PLAN_FREE, Credit: 10}

	k.SetPlan(PLAN_CREDIT, &planID, 500, &expires)
	assert.Equal(t, PLAN_CREDIT, k.PlanType)
	assert.Equal(t, int64(500), k.Credit)
	assert.Equal(t, &expires, k.ExpiresAt)

	k.SetPlan(PLAN_SUBSCRIPTION, &planID, 0, &expires)
	assert.Equal(t, CreditUnlimited, k.Credit)

	k.SetPlan(PLAN_FREE, &planID, 999, &expires)
	assert.Nil(t, k.PlanID)
	assert.Equal(t, FreeDailyCredit, k.Credit)
	assert.Nil(t, k.ExpiresAt)
}

func TestAppKeyDaysUntilExpiry(t *testing.T) {
	now := mustDate(t, "2024-03-10 12:00:00")
	setNow(t, now)

	k := &AppKey{PlanType: PLAN_FREE}
	assert.Nil(t, k.DaysUntilExpiry())

	in36h := now.Add(36 * time.Hour)
	k = &AppKey{PlanType: PLAN_SUBSCRIPTION, ExpiresAt: &in36h}
	require.NotNil(t, k.DaysUntilExpiry())
	assert.Equal(t, 2, *k.DaysUntilExpiry())

	past := now.Add(-time.Hour)
	k.ExpiresAt = &past
	assert.Equal(t, 0, *k.DaysUntilExpiry())
}
