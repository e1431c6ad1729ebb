package repository

import (
	"context"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityRepository writes and reads the activity log. It never updates or
// deletes rows.
//
// Index recommendations:
// - CREATE INDEX idx_activities_related ON activities(related_type, related_id);
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts an activity, leaving out the omitted columns
func (r *ActivityRepository) Create(ctx context.Context, activity *domain.Activity, omit ...string) error {
	return r.db.WithContext(ctx).Omit(append([]string{clause.Associations}, omit...)...).Create(activity).Error
}

// ListByRelated returns the newest activities for an entity. When
// filterByType is false the related_type column is not consulted.
func (r *ActivityRepository) ListByRelated(ctx context.Context, relatedType string, relatedID int64, filterByType bool, limit int) ([]domain.Activity, error) {
	var activities []domain.Activity
	query := r.db.WithContext(ctx).Where("related_id = ?", relatedID)
	if filterByType {
		query = query.Where("(related_type = ? OR related_type IS NULL)", relatedType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at DESC, id DESC").Find(&activities).Error
	return activities, err
}
