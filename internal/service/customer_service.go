package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/mapper"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CustomerService struct {
	customerRepo *repository.CustomerRepository
	dealRepo     *repository.DealRepository
	logger       *zap.Logger
	db           *gorm.DB
}

func NewCustomerService(
	customerRepo *repository.CustomerRepository,
	dealRepo *repository.DealRepository,
	logger *zap.Logger,
	db *gorm.DB,
) *CustomerService {
	return &CustomerService{
		customerRepo: customerRepo,
		dealRepo:     dealRepo,
		logger:       logger,
		db:           db,
	}
}

// GetOrCreate returns the customer with exactly this name, creating it with
// clientType when none exists. The bool reports whether a row was inserted.
// Pass tx to run inside the caller's transaction.
func (s *CustomerService) GetOrCreate(ctx context.Context, tx *gorm.DB, name, clientType string) (*domain.Customer, bool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	}

	customer, err := s.customerRepo.GetByName(ctx, tx, name)
	if err == nil {
		return customer, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up customer: %w", err)
	}

	customer = &domain.Customer{Name: name, ClientType: clientType}
	inserted, err := s.customerRepo.CreateIfAbsent(ctx, tx, customer)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create customer: %w", err)
	}
	if !inserted {
		// a concurrent request created the same name after our lookup
		customer, err = s.customerRepo.GetByName(ctx, tx, name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up customer: %w", err)
		}
		return customer, false, nil
	}

	s.logger.Info("customer created",
		zap.Int64("customer_id", customer.ID),
		zap.String("customer_name", customer.Name))
	return customer, true, nil
}

// List returns every customer with its deal count
func (s *CustomerService) List(ctx context.Context) ([]domain.CustomerDTO, error) {
	rows, err := s.customerRepo.ListWithDealCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	dtos := make([]domain.CustomerDTO, len(rows))
	for i := range rows {
		dtos[i] = mapper.ToCustomerDTO(&rows[i].Customer, rows[i].DealCount)
	}
	return dtos, nil
}

// Delete removes a customer that no deal references. Deals are never removed
// on the customer's behalf.
func (s *CustomerService) Delete(ctx context.Context, id int64, role domain.UserRole) error {
	if !role.IsAdmin() {
		return ErrForbidden
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.dealRepo.CountByCustomer(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to count customer deals: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %d deals reference customer %d", ErrCustomerHasDeals, count, id)
		}
		if err := s.customerRepo.Delete(ctx, tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCustomerNotFound
			}
			return fmt.Errorf("failed to delete customer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("customer deleted", zap.Int64("customer_id", id))
	return nil
}
