package repository

import (
	"context"
	"fmt"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DealRepository struct {
	db *gorm.DB
}

func NewDealRepository(db *gorm.DB) *DealRepository {
	return &DealRepository{db: db}
}

// conn returns tx when the caller runs inside a transaction
func (r *DealRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Create inserts a deal. Columns listed in omit are left out of the INSERT,
// which lets callers skip columns the live schema lacks.
func (r *DealRepository) Create(ctx context.Context, tx *gorm.DB, deal *domain.Deal, omit ...string) error {
	return r.conn(ctx, tx).Omit(append([]string{clause.Associations}, omit...)...).Create(deal).Error
}

func (r *DealRepository) GetByID(ctx context.Context, id int64) (*domain.Deal, error) {
	var deal domain.Deal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// GetForUpdate loads a deal and locks its row until tx ends
func (r *DealRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*domain.Deal, error) {
	var deal domain.Deal
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&deal).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// Exists reports whether a deal row is present
func (r *DealRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Deal{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateFields writes the given column values
func (r *DealRepository) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	result := r.conn(ctx, tx).Model(&domain.Deal{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update deal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountByCustomer counts deals that reference a customer
func (r *DealRepository) CountByCustomer(ctx context.Context, tx *gorm.DB, customerID int64) (int64, error) {
	var count int64
	err := r.conn(ctx, tx).Model(&domain.Deal{}).Where("customer_id = ?", customerID).Count(&count).Error
	return count, err
}

// WithTransaction executes operations within a transaction
func (r *DealRepository) WithTransaction(ctx context.Context, fn func(*gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
