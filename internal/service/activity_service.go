package service

import (
	"context"
	"fmt"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/mapper"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"go.uber.org/zap"
)

const tableActivities = "activities"

// columns newer migrations added to activities
var optionalActivityColumns = []string{"related_type", "metadata"}

// ActivityEvent is a lifecycle event to log
type ActivityEvent struct {
	Type      domain.ActivityType
	UserID    int64
	Content   string
	RelatedID *int64
	Metadata  map[string]interface{}
}

// ActivityRecorder appends lifecycle events to the activity log. Recording is
// best-effort: failures are logged and never returned to the caller.
type ActivityRecorder struct {
	activityRepo *repository.ActivityRepository
	introspector schema.Introspector
	logger       *zap.Logger
}

// NewActivityRecorder creates a new ActivityRecorder instance
func NewActivityRecorder(activityRepo *repository.ActivityRepository, introspector schema.Introspector, logger *zap.Logger) *ActivityRecorder {
	return &ActivityRecorder{
		activityRepo: activityRepo,
		introspector: introspector,
		logger:       logger,
	}
}

// Record writes one event. It runs detached from ctx cancellation so a
// client hanging up after the operation committed does not lose the entry.
func (r *ActivityRecorder) Record(ctx context.Context, event ActivityEvent) {
	ctx = context.WithoutCancel(ctx)
	log := r.logger.With(zap.String("activity_type", string(event.Type)))

	cols, err := r.introspector.Columns(ctx, tableActivities)
	if err != nil {
		log.Warn("failed to inspect activities table, activity not recorded", zap.Error(err))
		return
	}
	if len(cols) == 0 {
		log.Warn("activities table missing, activity not recorded")
		return
	}

	relatedType := domain.ActivityRelatedDeal
	activity := &domain.Activity{
		Type:        event.Type,
		UserID:      event.UserID,
		Content:     event.Content,
		RelatedID:   event.RelatedID,
		RelatedType: &relatedType,
		Metadata:    event.Metadata,
	}

	if err := r.activityRepo.Create(ctx, activity, missingColumns(cols, optionalActivityColumns)...); err != nil {
		log.Warn("failed to record activity", zap.Error(err))
		return
	}
	log.Debug("activity recorded", zap.Int64("activity_id", activity.ID))
}

// ListForDeal returns the newest activities about a deal
func (r *ActivityRecorder) ListForDeal(ctx context.Context, dealID int64, limit int) ([]domain.ActivityDTO, error) {
	cols, err := r.introspector.Columns(ctx, tableActivities)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return []domain.ActivityDTO{}, nil
	}

	activities, err := r.activityRepo.ListByRelated(ctx, domain.ActivityRelatedDeal, dealID, cols.Has("related_type"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	dtos := make([]domain.ActivityDTO, len(activities))
	for i := range activities {
		dtos[i] = mapper.ToActivityDTO(&activities[i])
	}
	return dtos, nil
}
