package repository

import (
	"context"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"gorm.io/gorm"
)

// WipRepository handles the fulfilment records hanging off a deal: WIP rows,
// their updates and revenue entries, and installations.
type WipRepository struct {
	db *gorm.DB
}

func NewWipRepository(db *gorm.DB) *WipRepository {
	return &WipRepository{db: db}
}

func (r *WipRepository) GetByID(ctx context.Context, id int64) (*domain.Wip, error) {
	var wip domain.Wip
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&wip).Error; err != nil {
		return nil, err
	}
	return &wip, nil
}

func (r *WipRepository) ListByDeal(ctx context.Context, dealID int64) ([]domain.Wip, error) {
	var wips []domain.Wip
	err := r.db.WithContext(ctx).Where("deal_id = ?", dealID).Order("id").Find(&wips).Error
	return wips, err
}

func (r *WipRepository) Create(ctx context.Context, wip *domain.Wip) error {
	return r.db.WithContext(ctx).Create(wip).Error
}

func (r *WipRepository) CreateUpdate(ctx context.Context, update *domain.WipUpdate) error {
	return r.db.WithContext(ctx).Create(update).Error
}

func (r *WipRepository) CreateRevenue(ctx context.Context, entry *domain.RevenueRecognition) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *WipRepository) CreateInstallation(ctx context.Context, installation *domain.Installation) error {
	return r.db.WithContext(ctx).Create(installation).Error
}
