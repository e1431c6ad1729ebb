package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/cascade"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/logger"
	"github.com/straye-as/sales-pipeline-api/internal/mapper"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tableDeals = "deals"

var errDealsTableMissing = errors.New("deals table not found in schema")

type DealService struct {
	dealRepo     *repository.DealRepository
	customers    *CustomerService
	activities   *ActivityRecorder
	planner      *cascade.Planner
	executor     *cascade.Executor
	introspector schema.Introspector
	archive      *DeletionArchive
	rules        DealRules
	logger       *zap.Logger
}

// NewDealService wires the deal lifecycle. archive may be nil, in which case
// deletions are not snapshotted.
func NewDealService(
	dealRepo *repository.DealRepository,
	customers *CustomerService,
	activities *ActivityRecorder,
	planner *cascade.Planner,
	executor *cascade.Executor,
	introspector schema.Introspector,
	archive *DeletionArchive,
	rules DealRules,
	logger *zap.Logger,
) *DealService {
	return &DealService{
		dealRepo:     dealRepo,
		customers:    customers,
		activities:   activities,
		planner:      planner,
		executor:     executor,
		introspector: introspector,
		archive:      archive,
		rules:        rules,
		logger:       logger,
	}
}

// Create resolves (or creates) the customer by name and inserts the deal in
// the same transaction.
func (s *DealService) Create(ctx context.Context, req *domain.CreateDealRequest) (*domain.DealDTO, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: deal name is required", ErrInvalidInput)
	}

	stage := req.Stage
	if stage == "" {
		stage = domain.DealStageProspecting
	}
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}

	fin, err := ComputeFinancials(FinancialInput{
		MRC:            req.MRC,
		NRC:            req.NRC,
		ContractLength: req.ContractLength,
		TCV:            req.TCV,
	}, s.rules)
	if err != nil {
		return nil, err
	}
	if fin.Sentinel {
		s.logger.Warn("deal has no contract value, storing sentinel value",
			zap.String("deal_name", name),
			zap.Float64("value", fin.Value))
	}

	cols, err := s.dealColumns(ctx)
	if err != nil {
		return nil, err
	}

	owner := req.UserID
	if owner == 0 {
		owner = auth.ActorID(ctx)
	}

	deal := &domain.Deal{
		Name:           name,
		MRC:            fin.MRC,
		NRC:            fin.NRC,
		ContractLength: fin.ContractLength,
		TCV:            fin.TCV,
		Value:          fin.Value,
		Category:       req.Category,
		ClientType:     req.ClientType,
		Stage:          stage,
		UserID:         owner,
	}
	if stage.IsClosed() {
		now := time.Now().UTC()
		deal.ClosedDate = &now
	}

	err = s.dealRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		customer, _, err := s.customers.GetOrCreate(ctx, tx, req.CustomerName, req.ClientType)
		if err != nil {
			return err
		}
		deal.CustomerID = &customer.ID

		if err := s.dealRepo.Create(ctx, tx, deal, missingColumns(cols, domain.OptionalDealColumns)...); err != nil {
			return fmt.Errorf("failed to create deal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.dealRepo.GetByID(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload deal: %w", err)
	}

	logger.WithDeal(s.logger, created.ID).Info("deal created",
		zap.String("stage", string(created.Stage)),
		zap.Float64("value", created.Value))

	s.activities.Record(ctx, ActivityEvent{
		Type:      domain.ActivityDealCreated,
		UserID:    auth.ActorID(ctx),
		Content:   fmt.Sprintf("Deal '%s' created", created.Name),
		RelatedID: &created.ID,
		Metadata:  mapper.DealSnapshot(created),
	})

	dto := mapper.ToDealDTO(created)
	return &dto, nil
}

func (s *DealService) GetByID(ctx context.Context, id int64) (*domain.DealDTO, error) {
	deal, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	dto := mapper.ToDealDTO(deal)
	return &dto, nil
}

// Update applies the non-nil fields of req. Financial inputs are merged with
// the stored ones and TCV and value recomputed; otherwise only an invalid
// stored value is repaired.
func (s *DealService) Update(ctx context.Context, id int64, req *domain.UpdateDealRequest) (*domain.DealDTO, error) {
	if req.Stage != nil && !req.Stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, *req.Stage)
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("%w: deal name cannot be empty", ErrInvalidInput)
	}

	before, after, err := s.apply(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.activities.Record(ctx, ActivityEvent{
		Type:      domain.ActivityDealUpdated,
		UserID:    auth.ActorID(ctx),
		Content:   fmt.Sprintf("Deal '%s' updated", after.Name),
		RelatedID: &after.ID,
		Metadata: map[string]interface{}{
			"before": mapper.DealSnapshot(before),
			"after":  mapper.DealSnapshot(after),
		},
	})

	dto := mapper.ToDealDTO(after)
	return &dto, nil
}

// TransitionStage moves a deal to stage. Any stage may follow any other.
func (s *DealService) TransitionStage(ctx context.Context, id int64, stage domain.DealStage) (*domain.DealDTO, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}

	before, after, err := s.apply(ctx, id, &domain.UpdateDealRequest{Stage: &stage})
	if err != nil {
		return nil, err
	}

	logger.WithDeal(s.logger, id).Info("deal stage changed",
		zap.String("from", string(before.Stage)),
		zap.String("to", string(after.Stage)))

	s.activities.Record(ctx, ActivityEvent{
		Type:      domain.ActivityStageChanged,
		UserID:    auth.ActorID(ctx),
		Content:   fmt.Sprintf("Deal '%s' moved from %s to %s", after.Name, before.Stage, after.Stage),
		RelatedID: &after.ID,
		Metadata: map[string]interface{}{
			"previousStage": string(before.Stage),
			"nextStage":     string(after.Stage),
		},
	})

	dto := mapper.ToDealDTO(after)
	return &dto, nil
}

// apply runs one update under a row lock and returns the deal before and
// after the write
func (s *DealService) apply(ctx context.Context, id int64, req *domain.UpdateDealRequest) (*domain.Deal, *domain.Deal, error) {
	cols, err := s.dealColumns(ctx)
	if err != nil {
		return nil, nil, err
	}

	var before domain.Deal
	err = s.dealRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		current, err := s.dealRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDealNotFound
			}
			return fmt.Errorf("failed to load deal: %w", err)
		}
		before = *current

		updates, err := s.buildUpdates(current, req, cols)
		if err != nil {
			return err
		}
		if err := s.dealRepo.UpdateFields(ctx, tx, id, updates); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDealNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	after, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload deal: %w", err)
	}
	return &before, after, nil
}

// buildUpdates maps the present fields of req to column values, dropping
// columns the live schema does not have
func (s *DealService) buildUpdates(current *domain.Deal, req *domain.UpdateDealRequest, cols schema.Set) (map[string]interface{}, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"updated_at": now}

	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.ClientType != nil {
		updates["client_type"] = *req.ClientType
	}
	if req.UserID != nil {
		updates["user_id"] = *req.UserID
	}
	if req.CustomerID != nil {
		updates["customer_id"] = *req.CustomerID
	}
	if req.Stage != nil {
		updates["stage"] = string(*req.Stage)
		if req.Stage.IsClosed() && (current.Stage != *req.Stage || current.ClosedDate == nil) {
			updates["closed_date"] = now
		}
	}

	if req.HasFinancials() {
		in := FinancialInput{MRC: current.MRC, NRC: current.NRC, TCV: req.TCV}
		if current.ContractLength >= 1 {
			length := current.ContractLength
			in.ContractLength = &length
		}
		if req.MRC != nil {
			in.MRC = *req.MRC
		}
		if req.NRC != nil {
			in.NRC = *req.NRC
		}
		if req.ContractLength != nil {
			in.ContractLength = req.ContractLength
		}

		fin, err := ComputeFinancials(in, s.rules)
		if err != nil {
			return nil, err
		}
		if fin.Sentinel {
			logger.WithDeal(s.logger, current.ID).Warn("deal has no contract value, storing sentinel value")
		}
		updates["mrc"] = fin.MRC
		updates["nrc"] = fin.NRC
		updates["contract_length"] = fin.ContractLength
		updates["tcv"] = fin.TCV
		updates["value"] = fin.Value
	} else if value, repaired := repairValue(current.Value, current.TCV); repaired {
		logger.WithDeal(s.logger, current.ID).Warn("repairing invalid stored deal value",
			zap.Float64("old_value", current.Value),
			zap.Float64("new_value", value))
		updates["value"] = value
	}

	for col := range updates {
		if !cols.Has(col) {
			delete(updates, col)
		}
	}
	return updates, nil
}

// Delete removes a deal and everything that depends on it. Only admin roles
// may delete. The returned result reports the path that removed the deal and
// any dependent rows left behind by a fallback.
func (s *DealService) Delete(ctx context.Context, id int64, role domain.UserRole) (*cascade.Result, error) {
	if !role.IsAdmin() {
		return nil, ErrForbidden
	}

	log := logger.WithDeal(s.logger, id)

	deal, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	plan, err := s.planner.Plan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to plan deal deletion: %w", err)
	}

	actor := auth.ActorID(ctx)
	if s.archive != nil {
		key, err := s.archive.Save(ctx, deal, plan, actor)
		if err != nil {
			log.Warn("failed to archive deal before deletion", zap.Error(err))
		} else {
			log.Info("deal archived before deletion", zap.String("archive_key", key))
		}
	}

	result, err := s.executor.Execute(ctx, plan)
	if errors.Is(err, cascade.ErrDealNotFound) {
		// removed by a concurrent delete between the lookup and the lock
		return nil, ErrDealNotFound
	}
	if err != nil {
		var de *cascade.DeletionError
		if errors.As(err, &de) {
			log.Error("deal deletion failed", zap.String("detail", de.Detail()))
		}
		return result, fmt.Errorf("%w: %w", ErrDeletionFailed, err)
	}

	s.activities.Record(ctx, ActivityEvent{
		Type:    domain.ActivityDealDeleted,
		UserID:  actor,
		Content: fmt.Sprintf("Deal '%s' deleted", deal.Name),
		Metadata: map[string]interface{}{
			"dealId":       deal.ID,
			"name":         deal.Name,
			"path":         string(result.Path),
			"residualRows": result.Residual,
		},
	})

	return result, nil
}

// ListActivities returns the newest activity entries for a deal
func (s *DealService) ListActivities(ctx context.Context, dealID int64, limit int) ([]domain.ActivityDTO, error) {
	exists, err := s.dealRepo.Exists(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to check deal: %w", err)
	}
	if !exists {
		return nil, ErrDealNotFound
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.activities.ListForDeal(ctx, dealID, limit)
}

func (s *DealService) dealColumns(ctx context.Context) (schema.Set, error) {
	cols, err := s.introspector.Columns(ctx, tableDeals)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect deals table: %w", err)
	}
	if len(cols) == 0 {
		return nil, errDealsTableMissing
	}
	return cols, nil
}

func missingColumns(cols schema.Set, optional []string) []string {
	var missing []string
	for _, col := range optional {
		if !cols.Has(col) {
			missing = append(missing, col)
		}
	}
	return missing
}
