package repository

import (
	"time"

	"github.com/picmetahq/picmeta/app/models"
	"gorm.io/gorm"
)

// AppKeyRepository defines the interface for entitlement record operations
type AppKeyRepository interface {
	Create(key *models.AppKey) error
	GetByID(id uint) (*models.AppKey, error)
	GetByKey(rawKey string) (*models.AppKey, error)
	GetByUserID(userID uint) (*models.AppKey, error)
	Update(key *models.AppKey) error
	Delete(id uint) error
	List(offset, limit int) ([]models.AppKey, error)
	Count() (int64, error)

	// CommitUsage persists a usage commit from the in-memory record. For
	// metered plans credit and lifetime total change via a conditional
	// expression guarded on credit >= units; a false return means the guard
	// failed (a concurrent debit won) and nothing was written.
	CommitUsage(key *models.AppKey, units int64) (bool, error)

	FindExpiredSubscriptions(now time.Time) ([]models.AppKey, error)
	FindExhaustedCreditKeys() ([]models.AppKey, error)
	FindFreeKeysNeedingRefresh(today string) ([]models.AppKey, error)
	CountExpiredSubscriptions(now time.Time) (int64, error)
	CountExhaustedCreditKeys() (int64, error)
	CountFreeKeysNeedingRefresh(today string) (int64, error)
}

// PricingPlanRepository defines the interface for plan definition operations
type PricingPlanRepository interface {
	Create(plan *models.PricingPlan) error
	GetByID(id uint) (*models.PricingPlan, error)
	GetActive() ([]models.PricingPlan, error)
	GetAll() ([]models.PricingPlan, error)
	Update(plan *models.PricingPlan) error
	Delete(id uint) error
}

// PaymentEventRepository defines the interface for payment confirmation bookkeeping
type PaymentEventRepository interface {
	CreateIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkProcessed(id uint, processingError string) error
	GetByID(id uint) (*models.PaymentEvent, error)
	ListByUser(userID uint, offset, limit int) ([]models.PaymentEvent, error)
}

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	AppKey       AppKeyRepository
	PricingPlan  PricingPlanRepository
	PaymentEvent PaymentEventRepository
	User         UserRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AppKey:       NewAppKeyRepository(db),
		PricingPlan:  NewPricingPlanRepository(db),
		PaymentEvent: NewPaymentEventRepository(db),
		User:         NewUserRepository(db),
	}
}
