package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/mapper"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WipService creates the fulfilment records a deal owns. They are removed
// only through the deal's cascading delete.
type WipService struct {
	wipRepo  *repository.WipRepository
	dealRepo *repository.DealRepository
	logger   *zap.Logger
}

func NewWipService(wipRepo *repository.WipRepository, dealRepo *repository.DealRepository, logger *zap.Logger) *WipService {
	return &WipService{
		wipRepo:  wipRepo,
		dealRepo: dealRepo,
		logger:   logger,
	}
}

// CreateWip opens a WIP record for an existing deal
func (s *WipService) CreateWip(ctx context.Context, dealID int64, req *domain.CreateWipRequest) (*domain.WipDTO, error) {
	if err := s.requireDeal(ctx, dealID); err != nil {
		return nil, err
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = "open"
	}
	wip := &domain.Wip{DealID: dealID, Status: status, Notes: req.Notes}
	if err := s.wipRepo.Create(ctx, wip); err != nil {
		return nil, fmt.Errorf("failed to create wip record: %w", err)
	}

	s.logger.Info("wip record created", zap.Int64("deal_id", dealID), zap.Int64("wip_id", wip.ID))
	dto := mapper.ToWipDTO(wip)
	return &dto, nil
}

// ListWip returns the WIP records of a deal
func (s *WipService) ListWip(ctx context.Context, dealID int64) ([]domain.WipDTO, error) {
	if err := s.requireDeal(ctx, dealID); err != nil {
		return nil, err
	}
	wips, err := s.wipRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wip records: %w", err)
	}
	dtos := make([]domain.WipDTO, len(wips))
	for i := range wips {
		dtos[i] = mapper.ToWipDTO(&wips[i])
	}
	return dtos, nil
}

// AddUpdate appends a progress note to a WIP record
func (s *WipService) AddUpdate(ctx context.Context, wipID int64, req *domain.CreateWipUpdateRequest) (*domain.WipUpdateDTO, error) {
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, fmt.Errorf("%w: note is required", ErrInvalidInput)
	}
	if err := s.requireWip(ctx, wipID); err != nil {
		return nil, err
	}

	update := &domain.WipUpdate{WipID: wipID, UserID: auth.ActorID(ctx), Note: note}
	if err := s.wipRepo.CreateUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to create wip update: %w", err)
	}

	dto := mapper.ToWipUpdateDTO(update)
	return &dto, nil
}

// RecognizeRevenue books an amount for a YYYY-MM month against a WIP record
func (s *WipService) RecognizeRevenue(ctx context.Context, wipID int64, req *domain.RecognizeRevenueRequest) (*domain.RevenueRecognitionDTO, error) {
	if _, err := time.Parse("2006-01", req.Month); err != nil {
		return nil, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidInput)
	}
	if !finite(req.Amount) || req.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must be a non-negative number", ErrInvalidInput)
	}
	if err := s.requireWip(ctx, wipID); err != nil {
		return nil, err
	}

	entry := &domain.RevenueRecognition{
		WipID:  wipID,
		Month:  req.Month,
		Amount: decimal.NewFromFloat(req.Amount).Round(2).InexactFloat64(),
	}
	if err := s.wipRepo.CreateRevenue(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create revenue entry: %w", err)
	}

	s.logger.Info("revenue recognized",
		zap.Int64("wip_id", wipID),
		zap.String("month", entry.Month),
		zap.Float64("amount", entry.Amount))
	dto := mapper.ToRevenueRecognitionDTO(entry)
	return &dto, nil
}

// CreateInstallation schedules an installation for a deal
func (s *WipService) CreateInstallation(ctx context.Context, dealID int64, req *domain.CreateInstallationRequest) (*domain.InstallationDTO, error) {
	if err := s.requireDeal(ctx, dealID); err != nil {
		return nil, err
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = "scheduled"
	}
	inst := &domain.Installation{DealID: dealID, Status: status, ScheduledDate: req.ScheduledDate}
	if err := s.wipRepo.CreateInstallation(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to create installation: %w", err)
	}

	dto := mapper.ToInstallationDTO(inst)
	return &dto, nil
}

func (s *WipService) requireDeal(ctx context.Context, dealID int64) error {
	exists, err := s.dealRepo.Exists(ctx, dealID)
	if err != nil {
		return fmt.Errorf("failed to check deal: %w", err)
	}
	if !exists {
		return ErrDealNotFound
	}
	return nil
}

func (s *WipService) requireWip(ctx context.Context, wipID int64) error {
	if _, err := s.wipRepo.GetByID(ctx, wipID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWipNotFound
		}
		return fmt.Errorf("failed to get wip record: %w", err)
	}
	return nil
}
