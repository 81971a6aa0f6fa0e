package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/picmetahq/picmeta/app/models"
)

// fakeSweepRepo feeds the maintenance sweeps from fixed slices and records
// which keys got written back.
type fakeSweepRepo struct {
	mu sync.Mutex

	expired       []models.AppKey
	exhausted     []models.AppKey
	needRefresh   []models.AppKey
	findErr       error
	failUpdateIDs map[uint]bool

	updated []models.AppKey
}

func (r *fakeSweepRepo) Create(*models.AppKey) error                 { return nil }
func (r *fakeSweepRepo) GetByID(uint) (*models.AppKey, error)        { return nil, gorm.ErrRecordNotFound }
func (r *fakeSweepRepo) GetByKey(string) (*models.AppKey, error)     { return nil, gorm.ErrRecordNotFound }
func (r *fakeSweepRepo) GetByUserID(uint) (*models.AppKey, error)    { return nil, gorm.ErrRecordNotFound }
func (r *fakeSweepRepo) Delete(uint) error                           { return nil }
func (r *fakeSweepRepo) List(int, int) ([]models.AppKey, error)      { return nil, nil }
func (r *fakeSweepRepo) Count() (int64, error)                       { return 0, nil }
func (r *fakeSweepRepo) CommitUsage(*models.AppKey, int64) (bool, error) {
	return false, errors.New("not implemented")
}

func (r *fakeSweepRepo) Update(key *models.AppKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateIDs[key.ID] {
		return errors.New("update failed")
	}
	r.updated = append(r.updated, *key)
	return nil
}

func (r *fakeSweepRepo) FindExpiredSubscriptions(time.Time) ([]models.AppKey, error) {
	return r.expired, r.findErr
}

func (r *fakeSweepRepo) FindExhaustedCreditKeys() ([]models.AppKey, error) {
	return r.exhausted, r.findErr
}

func (r *fakeSweepRepo) FindFreeKeysNeedingRefresh(string) ([]models.AppKey, error) {
	return r.needRefresh, r.findErr
}

func (r *fakeSweepRepo) CountExpiredSubscriptions(time.Time) (int64, error) {
	return int64(len(r.expired)), r.findErr
}

func (r *fakeSweepRepo) CountExhaustedCreditKeys() (int64, error) {
	return int64(len(r.exhausted)), r.findErr
}

func (r *fakeSweepRepo) CountFreeKeysNeedingRefresh(string) (int64, error) {
	return int64(len(r.needRefresh)), r.findErr
}

func (r *fakeSweepRepo) updatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updated)
}

type memoryRunLog struct {
	mu  sync.Mutex
	day string
}

func (l *memoryRunLog) LastRunDay() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.day
}

func (l *memoryRunLog) RecordRunDay(day string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.day = day
}

func expiredSubKey(id uint) models.AppKey {
	past := time.Now().Add(-time.Hour)
	return models.AppKey{
		ID:        id,
		PlanType:  models.PLAN_SUBSCRIPTION,
		Credit:    models.CreditUnlimited,
		ExpiresAt: &past,
		IsActive:  true,
		Status:    models.KEY_STATUS_ACTIVE,
	}
}

func exhaustedCreditKey(id uint) models.AppKey {
	return models.AppKey{
		ID:       id,
		PlanType: models.PLAN_CREDIT,
		Credit:   0,
		IsActive: true,
		Status:   models.KEY_STATUS_ACTIVE,
	}
}

func staleFreeKey(id uint) models.AppKey {
	return models.AppKey{
		ID:                id,
		PlanType:          models.PLAN_FREE,
		Credit:            2,
		LastCreditRefresh: "2020-01-01",
		IsActive:          true,
		Status:            models.KEY_STATUS_ACTIVE,
	}
}

func TestRunDailyMaintenanceCountsEachSweep(t *testing.T) {
	repo := &fakeSweepRepo{
		expired:     []models.AppKey{expiredSubKey(1), expiredSubKey(2)},
		exhausted:   []models.AppKey{exhaustedCreditKey(3)},
		needRefresh: []models.AppKey{staleFreeKey(4), staleFreeKey(5), staleFreeKey(6)},
	}
	s := New(repo, nil)

	result := s.RunDailyMaintenance("test")
	require.True(t, result.Succeeded())
	assert.Equal(t, 2, result.ExpiredSubscriptions)
	assert.Equal(t, 1, result.CollapsedCreditKeys)
	assert.Equal(t, 3, result.RefreshedFreeKeys)
	assert.Equal(t, "test", result.Trigger)
	assert.Equal(t, 6, repo.updatedCount())

	// every downgraded key landed on the free plan shape
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, k := range repo.updated {
		if k.ID <= 3 {
			assert.Equal(t, models.PLAN_FREE, k.PlanType)
			assert.Equal(t, models.FreeDailyCredit, k.Credit)
			assert.Nil(t, k.ExpiresAt)
		} else {
			assert.Equal(t, models.FreeDailyCredit, k.Credit)
			assert.Equal(t, models.Today(), k.LastCreditRefresh)
		}
	}
}

func TestRunDailyMaintenanceContinuesPastUpdateFailures(t *testing.T) {
	repo := &fakeSweepRepo{
		expired:       []models.AppKey{expiredSubKey(1), expiredSubKey(2), expiredSubKey(3)},
		failUpdateIDs: map[uint]bool{2: true},
	}
	s := New(repo, nil)

	result := s.RunDailyMaintenance("test")
	assert.False(t, result.Succeeded())
	assert.Equal(t, 2, result.ExpiredSubscriptions, "the failing key must not stop its siblings")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expire_subscriptions")
}

func TestRunDailyMaintenanceCollectsQueryErrors(t *testing.T) {
	repo := &fakeSweepRepo{findErr: errors.New("db down")}
	s := New(repo, nil)

	result := s.RunDailyMaintenance("test")
	assert.False(t, result.Succeeded())
	assert.Len(t, result.Errors, 3)
}

func TestStartRunsCatchUpWhenNoRunRecordedToday(t *testing.T) {
	repo := &fakeSweepRepo{expired: []models.AppKey{expiredSubKey(1)}}
	runLog := &memoryRunLog{day: "2020-01-01"}
	s := New(repo, runLog)

	s.Start()
	defer s.Stop()

	assert.Equal(t, 1, repo.updatedCount())
	assert.Equal(t, models.Today(), runLog.LastRunDay())

	st := s.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, uint64(1), st.TotalRuns)
	require.NotNil(t, st.NextRun)
}

func TestStartSkipsCatchUpWhenAlreadyRanToday(t *testing.T) {
	repo := &fakeSweepRepo{expired: []models.AppKey{expiredSubKey(1)}}
	runLog := &memoryRunLog{day: models.Today()}
	s := New(repo, runLog)

	s.Start()
	defer s.Stop()

	assert.Equal(t, 0, repo.updatedCount())
	assert.Equal(t, uint64(0), s.Stats().TotalRuns)
}

func TestStartIsIdempotent(t *testing.T) {
	runLog := &memoryRunLog{day: models.Today()}
	s := New(&fakeSweepRepo{}, runLog)

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestTriggerNowUpdatesStats(t *testing.T) {
	repo := &fakeSweepRepo{exhausted: []models.AppKey{exhaustedCreditKey(1)}}
	s := New(repo, &memoryRunLog{day: models.Today()})

	result := s.TriggerNow()
	require.True(t, result.Succeeded())
	assert.Equal(t, 1, result.CollapsedCreditKeys)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.TotalRuns)
	assert.Equal(t, uint64(1), st.SuccessfulRuns)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.LastResult)
}

func TestScheduleOneTime(t *testing.T) {
	s := New(&fakeSweepRepo{}, &memoryRunLog{day: models.Today()})

	_, err := s.ScheduleOneTime(time.Now().Add(time.Hour))
	require.Error(t, err, "scheduling requires a running scheduler")

	s.Start()
	defer s.Stop()

	_, err = s.ScheduleOneTime(time.Now().Add(-time.Minute))
	require.Error(t, err, "past times are rejected")

	id, err := s.ScheduleOneTime(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().PendingOneTime)

	assert.True(t, s.CancelOneTime(id))
	assert.False(t, s.CancelOneTime(id))
	assert.Equal(t, 0, s.Stats().PendingOneTime)
}

func TestStopCancelsPendingOneTimeRuns(t *testing.T) {
	s := New(&fakeSweepRepo{}, &memoryRunLog{day: models.Today()})
	s.Start()

	_, err := s.ScheduleOneTime(time.Now().Add(time.Hour))
	require.NoError(t, err)

	s.Stop()
	assert.Equal(t, 0, s.Stats().PendingOneTime)
}

func TestMaintenanceNeedCounts(t *testing.T) {
	repo := &fakeSweepRepo{
		expired:     []models.AppKey{expiredSubKey(1)},
		exhausted:   []models.AppKey{exhaustedCreditKey(2), exhaustedCreditKey(3)},
		needRefresh: []models.AppKey{staleFreeKey(4)},
	}
	s := New(repo, nil)

	needs, err := s.MaintenanceNeedCounts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), needs.ExpiredSubscriptions)
	assert.Equal(t, int64(2), needs.ExhaustedCreditKeys)
	assert.Equal(t, int64(1), needs.FreeKeysNeedingRefresh)
	assert.Equal(t, int64(4), needs.Total)
}
