package repository

import (
	"github.com/picmetahq/picmeta/app/models"
	"gorm.io/gorm"
)

// pricingPlanRepository implements PricingPlanRepository using GORM
type pricingPlanRepository struct {
	db *gorm.DB
}

// NewPricingPlanRepository creates a new instance of PricingPlanRepository
func NewPricingPlanRepository(db *gorm.DB) PricingPlanRepository {
	return &pricingPlanRepository{db: db}
}

func (r *pricingPlanRepository) Create(plan *models.PricingPlan) error {
	return r.db.Create(plan).Error
}

func (r *pricingPlanRepository) GetByID(id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.db.First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *pricingPlanRepository) GetActive() ([]models.PricingPlan, error) {
	var plans []models.PricingPlan
	err := r.db.Where("is_active = ?", true).Order("price_cents ASC").Find(&plans).Error
	return plans, err
}

func (r *pricingPlanRepository) GetAll() ([]models.PricingPlan, error) {
	var plans []models.PricingPlan
	err := r.db.Order("created_at DESC").Find(&plans).Error
	return plans, err
}

func (r *pricingPlanRepository) Update(plan *models.PricingPlan) error {
	return r.db.Save(plan).Error
}

func (r *pricingPlanRepository) Delete(id uint) error {
	return r.db.Delete(&models.PricingPlan{}, id).Error
}
