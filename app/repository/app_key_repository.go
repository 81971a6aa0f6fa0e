package repository

import (
	"strings"
	"time"

	"github.com/picmetahq/picmeta/app/models"
	"gorm.io/gorm"
)

// appKeyRepository implements AppKeyRepository using GORM
type appKeyRepository struct {
	db *gorm.DB
}

// NewAppKeyRepository creates a new instance of AppKeyRepository
func NewAppKeyRepository(db *gorm.DB) AppKeyRepository {
	return &appKeyRepository{db: db}
}

func (r *appKeyRepository) Create(key *models.AppKey) error {
	return r.db.Create(key).Error
}

func (r *appKeyRepository) GetByID(id uint) (*models.AppKey, error) {
	var key models.AppKey
	err := r.db.First(&key, id).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *appKeyRepository) GetByKey(rawKey string) (*models.AppKey, error) {
	var key models.AppKey
	err := r.db.Where("`key` = ?", strings.TrimSpace(rawKey)).First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *appKeyRepository) GetByUserID(userID uint) (*models.AppKey, error) {
	var key models.AppKey
	err := r.db.Where("user_id = ?", userID).First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *appKeyRepository) Update(key *models.AppKey) error {
	return r.db.Save(key).Error
}

func (r *appKeyRepository) Delete(id uint) error {
	return r.db.Unscoped().Delete(&models.AppKey{}, id).Error
}

func (r *appKeyRepository) List(offset, limit int) ([]models.AppKey, error) {
	var keys []models.AppKey
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

func (r *appKeyRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.AppKey{}).Count(&count).Error
	return count, err
}

// CommitUsage writes the usage side of a commit (counters, maps, device
// state) in one UPDATE. Credit and lifetime total are computed in the
// database, not from the in-memory copy, so two concurrent commits cannot
// both spend the same balance: for metered plans the statement is guarded on
// credit >= units and reports false when no row matched.
func (r *appKeyRepository) CommitUsage(key *models.AppKey, units int64) (bool, error) {
	updates := map[string]interface{}{
		"total_process":       gorm.Expr("total_process + ?", units),
		"daily_process":       key.DailyProcess,
		"monthly_process":     key.MonthlyProcess,
		"device_bindings":     key.DeviceBindings,
		"active_device_id":    key.ActiveDeviceID,
		"last_credit_refresh": key.LastCreditRefresh,
	}

	tx := r.db.Model(&models.AppKey{}).Where("id = ?", key.ID)
	if key.IsSubscription() {
		tx = tx.Updates(updates)
	} else {
		updates["credit"] = gorm.Expr("credit - ?", units)
		tx = tx.Where("credit >= ?", units).Updates(updates)
	}
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}

	// Reload so the caller reports the committed state, not the local guess.
	return true, r.db.First(key, key.ID).Error
}

func (r *appKeyRepository) activeScope() *gorm.DB {
	return r.db.Where("is_active = ? AND status = ?", true, models.KEY_STATUS_ACTIVE)
}

func (r *appKeyRepository) expiredSubscriptionScope(now time.Time) *gorm.DB {
	return r.activeScope().
		Where("plan_type = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.PLAN_SUBSCRIPTION, now)
}

func (r *appKeyRepository) exhaustedCreditScope() *gorm.DB {
	return r.activeScope().Where("plan_type = ? AND credit <= 0", models.PLAN_CREDIT)
}

func (r *appKeyRepository) freeNeedingRefreshScope(today string) *gorm.DB {
	return r.activeScope().
		Where("plan_type = ? AND (last_credit_refresh IS NULL OR last_credit_refresh = '' OR last_credit_refresh <> ?)", models.PLAN_FREE, today)
}

func (r *appKeyRepository) FindExpiredSubscriptions(now time.Time) ([]models.AppKey, error) {
	var keys []models.AppKey
	err := r.expiredSubscriptionScope(now).Find(&keys).Error
	return keys, err
}

func (r *appKeyRepository) FindExhaustedCreditKeys() ([]models.AppKey, error) {
	var keys []models.AppKey
	err := r.exhaustedCreditScope().Find(&keys).Error
	return keys, err
}

func (r *appKeyRepository) FindFreeKeysNeedingRefresh(today string) ([]models.AppKey, error) {
	var keys []models.AppKey
	err := r.freeNeedingRefreshScope(today).Find(&keys).Error
	return keys, err
}

func (r *appKeyRepository) CountExpiredSubscriptions(now time.Time) (int64, error) {
	var count int64
	err := r.expiredSubscriptionScope(now).Model(&models.AppKey{}).Count(&count).Error
	return count, err
}

func (r *appKeyRepository) CountExhaustedCreditKeys() (int64, error) {
	var count int64
	err := r.exhaustedCreditScope().Model(&models.AppKey{}).Count(&count).Error
	return count, err
}

func (r *appKeyRepository) CountFreeKeysNeedingRefresh(today string) (int64, error) {
	var count int64
	err := r.freeNeedingRefreshScope(today).Model(&models.AppKey{}).Count(&count).Error
	return count, err
}
