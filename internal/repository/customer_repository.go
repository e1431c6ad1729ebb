package repository

import (
	"context"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerWithDealCount is a customer row plus the number of deals referencing it
type CustomerWithDealCount struct {
	domain.Customer `gorm:"embedded"`
	DealCount       int64 `gorm:"column:deal_count"`
}

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// GetByName looks a customer up by exact, case-sensitive name
func (r *CustomerRepository) GetByName(ctx context.Context, tx *gorm.DB, name string) (*domain.Customer, error) {
	var customer domain.Customer
	err := r.conn(ctx, tx).Where("name = ?", name).Order("id").First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateIfAbsent inserts customer unless a row with the same name already
// exists, and reports whether it inserted
func (r *CustomerRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, customer *domain.Customer) (bool, error) {
	res := r.conn(ctx, tx).Clauses(clause.OnConflict{DoNothing: true}).Create(customer)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListWithDealCounts returns every customer ordered by name
func (r *CustomerRepository) ListWithDealCounts(ctx context.Context) ([]CustomerWithDealCount, error) {
	var rows []CustomerWithDealCount
	err := r.db.WithContext(ctx).
		Table("customers").
		Select("customers.id, customers.name, customers.client_type, customers.created_at, customers.updated_at, COUNT(deals.id) AS deal_count").
		Joins("LEFT JOIN deals ON deals.customer_id = customers.id").
		Group("customers.id, customers.name, customers.client_type, customers.created_at, customers.updated_at").
		Order("customers.name").
		Scan(&rows).Error
	return rows, err
}

func (r *CustomerRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	result := r.conn(ctx, tx).Delete(&domain.Customer{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
