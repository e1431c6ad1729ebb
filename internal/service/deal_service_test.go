package service_test

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/cascade"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"github.com/straye-as/sales-pipeline-api/internal/storage"
	"github.com/straye-as/sales-pipeline-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type services struct {
	deals     *service.DealService
	customers *service.CustomerService
	wips      *service.WipService
	recorder  *service.ActivityRecorder
}

type serviceOptions struct {
	rules    service.DealRules
	executor cascade.Options
	archive  *service.DeletionArchive
}

func createServices(t *testing.T, db *gorm.DB, opts *serviceOptions) services {
	t.Helper()
	if opts == nil {
		opts = &serviceOptions{rules: service.DefaultDealRules(), executor: cascade.DefaultOptions()}
	}
	logger := zap.NewNop()

	catalog, err := schema.NewCatalog(db)
	require.NoError(t, err)

	dealRepo := repository.NewDealRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	wipRepo := repository.NewWipRepository(db)

	recorder := service.NewActivityRecorder(activityRepo, catalog, logger)
	customers := service.NewCustomerService(customerRepo, dealRepo, logger, db)
	planner := cascade.NewPlanner(db, catalog, logger)
	executor := cascade.NewExecutor(db, planner, opts.executor, logger)

	return services{
		deals:     service.NewDealService(dealRepo, customers, recorder, planner, executor, catalog, opts.archive, opts.rules, logger),
		customers: customers,
		wips:      service.NewWipService(wipRepo, dealRepo, logger),
		recorder:  recorder,
	}
}

func userContext(id int64, role domain.UserRole) context.Context {
	return auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:      id,
		DisplayName: "Test User",
		Role:        role,
	})
}

func intPtr(v int) *int                             { return &v }
func floatPtr(v float64) *float64                   { return &v }
func strPtr(v string) *string                       { return &v }
func stagePtr(v domain.DealStage) *domain.DealStage { return &v }

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func latestActivity(t *testing.T, db *gorm.DB, activityType domain.ActivityType) *domain.Activity {
	t.Helper()
	var activity domain.Activity
	require.NoError(t, db.Where("type = ?", activityType).Order("id DESC").First(&activity).Error)
	return &activity
}

func TestDealService_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := createServices(t, db, nil)
	ctx := userContext(5, domain.RoleSalesRep)

	t.Run("computes financials and creates the customer", func(t *testing.T) {
		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{
			Name:           "Fiber rollout",
			CustomerName:   "Acme",
			ClientType:     "business",
			Category:       "fiber",
			MRC:            100,
			NRC:            200,
			ContractLength: intPtr(12),
		})
		require.NoError(t, err)

		assert.Equal(t, 1400.0, deal.TCV)
		assert.Equal(t, 1400.0, deal.Value)
		assert.Equal(t, domain.DealStageProspecting, deal.Stage)
		assert.Equal(t, int64(5), deal.UserID)
		assert.Nil(t, deal.ClosedDate)
		require.NotNil(t, deal.CustomerID)

		var customer domain.Customer
		require.NoError(t, db.First(&customer, *deal.CustomerID).Error)
		assert.Equal(t, "Acme", customer.Name)
		assert.Equal(t, "business", customer.ClientType)

		activity := latestActivity(t, db, domain.ActivityDealCreated)
		require.NotNil(t, activity.RelatedID)
		assert.Equal(t, deal.ID, *activity.RelatedID)
		assert.Equal(t, int64(5), activity.UserID)
	})

	t.Run("reuses an existing customer by exact name", func(t *testing.T) {
		existing := testutil.CreateTestCustomer(t, db, "Globex")

		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Upgrade", CustomerName: "Globex", MRC: 10})
		require.NoError(t, err)
		require.NotNil(t, deal.CustomerID)
		assert.Equal(t, existing.ID, *deal.CustomerID)
		assert.Equal(t, int64(1), testutil.CountRows(t, db, "customers", "name = ?", "Globex"))

		_, err = svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Other", CustomerName: "globex", MRC: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), testutil.CountRows(t, db, "customers", "name = ?", "globex"))
	})

	t.Run("explicit TCV wins over the formula", func(t *testing.T) {
		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{
			Name: "Negotiated", CustomerName: "Acme", MRC: 100, NRC: 200, TCV: floatPtr(999.5),
		})
		require.NoError(t, err)
		assert.Equal(t, 999.5, deal.TCV)
		assert.Equal(t, 999.5, deal.Value)
		assert.Equal(t, 12, deal.ContractLength)
	})

	t.Run("zero value stores the sentinel", func(t *testing.T) {
		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Empty", CustomerName: "Acme"})
		require.NoError(t, err)
		assert.Equal(t, 0.0, deal.TCV)
		assert.Equal(t, service.MinDealValue, deal.Value)
	})

	t.Run("closed stage stamps closed date", func(t *testing.T) {
		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{
			Name: "Signed", CustomerName: "Acme", MRC: 50, Stage: domain.DealStageClosedWon,
		})
		require.NoError(t, err)
		assert.NotNil(t, deal.ClosedDate)
	})

	t.Run("rejects unknown stage", func(t *testing.T) {
		before := testutil.CountRows(t, db, "deals", "")
		_, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Bad", CustomerName: "Acme", Stage: "won"})
		assert.True(t, errors.Is(err, service.ErrInvalidStage))
		assert.Equal(t, before, testutil.CountRows(t, db, "deals", ""))
	})

	t.Run("rejects missing names", func(t *testing.T) {
		_, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: " ", CustomerName: "Acme"})
		assert.True(t, errors.Is(err, service.ErrInvalidInput))

		_, err = svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "No customer"})
		assert.True(t, errors.Is(err, service.ErrInvalidInput))
		assert.Zero(t, testutil.CountRows(t, db, "deals", "name = ?", "No customer"))
	})
}

func TestDealService_Create_RejectPolicy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := createServices(t, db, &serviceOptions{
		rules:    service.DealRules{ZeroValuePolicy: service.ZeroValueReject, DefaultContractLength: 12},
		executor: cascade.DefaultOptions(),
	})

	_, err := svc.deals.Create(userContext(1, domain.RoleAdmin), &domain.CreateDealRequest{Name: "Empty", CustomerName: "Acme"})
	assert.True(t, errors.Is(err, service.ErrInvalidInput))
	assert.Zero(t, testutil.CountRows(t, db, "deals", ""))
	assert.Zero(t, testutil.CountRows(t, db, "customers", ""))
}

func TestDealService_Create_SchemaDrift(t *testing.T) {
	db := testutil.SetupTestDBWithout(t, "deals", "activities")
	testutil.Exec(t, db, `CREATE TABLE deals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		stage TEXT NOT NULL DEFAULT 'prospecting',
		user_id INTEGER,
		customer_id INTEGER REFERENCES customers(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	svc := createServices(t, db, nil)
	ctx := userContext(1, domain.RoleAdmin)

	deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{
		Name: "Legacy", CustomerName: "Acme", Category: "wireless", MRC: 10, NRC: 5, Stage: domain.DealStageClosedLost,
	})
	require.NoError(t, err)
	assert.Equal(t, 125.0, deal.Value)
	assert.Empty(t, deal.Category)

	updated, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{MRC: floatPtr(20), Category: strPtr("fiber")})
	require.NoError(t, err)
	// mrc and nrc are not stored, so only the new MRC and the default length count
	assert.Equal(t, 240.0, updated.Value)

	result, err := svc.deals.Delete(ctx, deal.ID, domain.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, result.Deleted)
}

func TestDealService_Create_NoDealsTable(t *testing.T) {
	db := testutil.SetupTestDBWithout(t, "deals", "wip", "wip_updates", "revenue_recognition", "installations")
	svc := createServices(t, db, nil)

	_, err := svc.deals.Create(context.Background(), &domain.CreateDealRequest{Name: "X", CustomerName: "Acme", MRC: 1})
	assert.Error(t, err)
	assert.Zero(t, testutil.CountRows(t, db, "customers", ""))
}

func TestDealService_Update(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := createServices(t, db, nil)
	ctx := userContext(3, domain.RoleSalesRep)

	create := func(t *testing.T) *domain.DealDTO {
		deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{
			Name: "Office link", CustomerName: "Acme", Category: "fiber", MRC: 100, NRC: 200, ContractLength: intPtr(12),
		})
		require.NoError(t, err)
		return deal
	}

	t.Run("empty update only touches updated_at", func(t *testing.T) {
		deal := create(t)

		updated, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{})
		require.NoError(t, err)
		assert.Equal(t, deal.Name, updated.Name)
		assert.Equal(t, deal.TCV, updated.TCV)
		assert.Equal(t, deal.Value, updated.Value)
		assert.Equal(t, deal.Stage, updated.Stage)
		assert.Equal(t, deal.Category, updated.Category)
		assert.False(t, updated.UpdatedAt.Before(deal.UpdatedAt))
	})

	t.Run("financial change recomputes TCV from merged values", func(t *testing.T) {
		deal := create(t)

		updated, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{MRC: floatPtr(150)})
		require.NoError(t, err)
		assert.Equal(t, 150.0, updated.MRC)
		assert.Equal(t, 200.0, updated.NRC)
		assert.Equal(t, 2000.0, updated.TCV)
		assert.Equal(t, 2000.0, updated.Value)

		updated, err = svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{ContractLength: intPtr(0), NRC: floatPtr(-10)})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.ContractLength)
		assert.Equal(t, 0.0, updated.NRC)
		assert.Equal(t, 150.0, updated.Value)
	})

	t.Run("records before and after snapshots", func(t *testing.T) {
		deal := create(t)

		_, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{Name: strPtr("Renamed")})
		require.NoError(t, err)

		activity := latestActivity(t, db, domain.ActivityDealUpdated)
		require.NotNil(t, activity.RelatedID)
		assert.Equal(t, deal.ID, *activity.RelatedID)
		before, ok := activity.Metadata["before"].(map[string]interface{})
		require.True(t, ok)
		after, ok := activity.Metadata["after"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Office link", before["name"])
		assert.Equal(t, "Renamed", after["name"])
	})

	t.Run("repairs a stored zero value", func(t *testing.T) {
		deal := create(t)
		testutil.Exec(t, db, "UPDATE deals SET value = 0 WHERE id = "+itoa(deal.ID))

		updated, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{Category: strPtr("wireless")})
		require.NoError(t, err)
		assert.Equal(t, 1400.0, updated.Value)
		assert.Equal(t, "wireless", updated.Category)
	})

	t.Run("invalid stage leaves the deal unchanged", func(t *testing.T) {
		deal := create(t)

		_, err := svc.deals.Update(ctx, deal.ID, &domain.UpdateDealRequest{
			Name:  strPtr("Should not apply"),
			Stage: stagePtr("archived"),
		})
		assert.True(t, errors.Is(err, service.ErrInvalidStage))

		current, err := svc.deals.GetByID(ctx, deal.ID)
		require.NoError(t, err)
		assert.Equal(t, "Office link", current.Name)
		assert.Equal(t, domain.DealStageProspecting, current.Stage)
	})

	t.Run("missing deal", func(t *testing.T) {
		_, err := svc.deals.Update(ctx, 99999, &domain.UpdateDealRequest{Name: strPtr("x")})
		assert.True(t, errors.Is(err, service.ErrDealNotFound))
		assert.True(t, errors.Is(err, service.ErrNotFound))
	})
}

func TestDealService_TransitionStage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := createServices(t, db, nil)
	ctx := userContext(3, domain.RoleManager)

	deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Campus", CustomerName: "Acme", MRC: 10})
	require.NoError(t, err)

	t.Run("closing stamps closed date", func(t *testing.T) {
		updated, err := svc.deals.TransitionStage(ctx, deal.ID, domain.DealStageClosedWon)
		require.NoError(t, err)
		assert.Equal(t, domain.DealStageClosedWon, updated.Stage)
		require.NotNil(t, updated.ClosedDate)

		activity := latestActivity(t, db, domain.ActivityStageChanged)
		assert.Equal(t, "prospecting", activity.Metadata["previousStage"])
		assert.Equal(t, "closed_won", activity.Metadata["nextStage"])
	})

	t.Run("closed deals can be reopened", func(t *testing.T) {
		updated, err := svc.deals.TransitionStage(ctx, deal.ID, domain.DealStageNegotiation)
		require.NoError(t, err)
		assert.Equal(t, domain.DealStageNegotiation, updated.Stage)
	})

	t.Run("unknown stage is rejected without coercion", func(t *testing.T) {
		_, err := svc.deals.TransitionStage(ctx, deal.ID, "Closed Won")
		assert.True(t, errors.Is(err, service.ErrInvalidStage))

		current, err := svc.deals.GetByID(ctx, deal.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DealStageNegotiation, current.Stage)
	})

	t.Run("missing deal", func(t *testing.T) {
		_, err := svc.deals.TransitionStage(ctx, 424242, domain.DealStageProposal)
		assert.True(t, errors.Is(err, service.ErrDealNotFound))
	})
}

func TestDealService_Delete(t *testing.T) {
	t.Run("removes the deal and its WIP chain", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := createServices(t, db, nil)
		testutil.Exec(t, db, "INSERT INTO deals (id, name, value, stage, user_id) VALUES (42, 'Deal 42', 500, 'proposal', 1)")
		wip := testutil.CreateTestWip(t, db, 42)
		testutil.CreateTestRevenue(t, db, wip.ID)
		testutil.CreateTestWipUpdate(t, db, wip.ID)
		testutil.CreateTestInstallation(t, db, 42)
		testutil.CreateTestActivity(t, db, 42, domain.ActivityRelatedDeal)

		result, err := svc.deals.Delete(userContext(1, domain.RoleAdmin), 42, domain.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.Equal(t, cascade.PathPrimary, result.Path)

		assert.Zero(t, testutil.CountRows(t, db, "deals", "id = 42"))
		assert.Zero(t, testutil.CountRows(t, db, "wip", "deal_id = 42"))
		assert.Zero(t, testutil.CountRows(t, db, "revenue_recognition", "wip_id = ?", wip.ID))
		assert.Zero(t, testutil.CountRows(t, db, "wip_updates", "wip_id = ?", wip.ID))
		assert.Zero(t, testutil.CountRows(t, db, "installations", "deal_id = 42"))
		assert.Zero(t, testutil.CountRows(t, db, "activities", "related_id = 42"))

		activity := latestActivity(t, db, domain.ActivityDealDeleted)
		assert.Nil(t, activity.RelatedID)
		assert.EqualValues(t, 42, activity.Metadata["dealId"])
		assert.Equal(t, "primary", activity.Metadata["path"])
	})

	t.Run("non admin is forbidden and nothing changes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := createServices(t, db, nil)
		deal := testutil.CreateTestDeal(t, db, "Keep me", nil)
		wip := testutil.CreateTestWip(t, db, deal.ID)
		testutil.CreateTestRevenue(t, db, wip.ID)

		for _, role := range []domain.UserRole{domain.RoleSalesRep, domain.RoleManager, ""} {
			result, err := svc.deals.Delete(userContext(2, role), deal.ID, role)
			assert.True(t, errors.Is(err, service.ErrForbidden), "role %q", role)
			assert.Nil(t, result)
		}

		assert.Equal(t, int64(1), testutil.CountRows(t, db, "deals", "id = ?", deal.ID))
		assert.Equal(t, int64(1), testutil.CountRows(t, db, "wip", "deal_id = ?", deal.ID))
		assert.Equal(t, int64(1), testutil.CountRows(t, db, "revenue_recognition", "wip_id = ?", wip.ID))
		assert.Zero(t, testutil.CountRows(t, db, "activities", "type = ?", domain.ActivityDealDeleted))
	})

	t.Run("forbidden is checked before existence", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := createServices(t, db, nil)

		_, err := svc.deals.Delete(context.Background(), 777, domain.RoleSalesRep)
		assert.True(t, errors.Is(err, service.ErrForbidden))

		_, err = svc.deals.Delete(context.Background(), 777, domain.RoleSuperAdmin)
		assert.True(t, errors.Is(err, service.ErrDealNotFound))
	})

	t.Run("falls back after the transaction fails", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := createServices(t, db, nil)
		deal := testutil.CreateTestDeal(t, db, "Retry", nil)
		wip := testutil.CreateTestWip(t, db, deal.ID)
		testutil.CreateTestRevenue(t, db, wip.ID)
		testutil.FailDeletes(t, db, "deals", 1)

		result, err := svc.deals.Delete(context.Background(), deal.ID, domain.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.NotEqual(t, cascade.PathPrimary, result.Path)
		assert.Zero(t, testutil.CountRows(t, db, "deals", "id = ?", deal.ID))
		assert.Zero(t, testutil.CountRows(t, db, "wip", "deal_id = ?", deal.ID))
	})

	t.Run("every strategy failing returns a sanitized error", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := createServices(t, db, nil)
		deal := testutil.CreateTestDeal(t, db, "Stuck", nil)
		testutil.FailDeletes(t, db, "deals", -1)

		result, err := svc.deals.Delete(context.Background(), deal.ID, domain.RoleAdmin)
		require.Error(t, err)
		assert.True(t, errors.Is(err, service.ErrDeletionFailed))

		var de *cascade.DeletionError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, deal.ID, de.DealID)
		assert.NotContains(t, err.Error(), "injected")

		require.NotNil(t, result)
		assert.False(t, result.Deleted)
		assert.Equal(t, int64(1), testutil.CountRows(t, db, "deals", "id = ?", deal.ID))
		assert.Zero(t, testutil.CountRows(t, db, "activities", "type = ?", domain.ActivityDealDeleted))
	})

	t.Run("works without an activities table", func(t *testing.T) {
		db := testutil.SetupTestDBWithout(t, "activities")
		svc := createServices(t, db, nil)
		deal := testutil.CreateTestDeal(t, db, "Quiet", nil)
		testutil.CreateTestInstallation(t, db, deal.ID)

		result, err := svc.deals.Delete(context.Background(), deal.ID, domain.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.Zero(t, testutil.CountRows(t, db, "installations", "deal_id = ?", deal.ID))
	})

	t.Run("archives a snapshot when configured", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		dir := t.TempDir()
		store, err := storage.NewLocalStore(dir)
		require.NoError(t, err)
		archive := service.NewDeletionArchive(store, zap.NewNop())
		svc := createServices(t, db, &serviceOptions{
			rules:    service.DefaultDealRules(),
			executor: cascade.DefaultOptions(),
			archive:  archive,
		})
		deal := testutil.CreateTestDeal(t, db, "Archived", nil)
		testutil.CreateTestWip(t, db, deal.ID)

		_, err = svc.deals.Delete(userContext(9, domain.RoleAdmin), deal.ID, domain.RoleAdmin)
		require.NoError(t, err)

		var keys []string
		require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				rel, _ := filepath.Rel(dir, path)
				keys = append(keys, filepath.ToSlash(rel))
			}
			return err
		}))
		require.Len(t, keys, 1)
		assert.True(t, strings.HasPrefix(keys[0], "deals/"))

		record, err := archive.Load(context.Background(), keys[0])
		require.NoError(t, err)
		assert.Equal(t, deal.ID, record.Deal.ID)
		assert.Equal(t, "Archived", record.Deal.Name)
		assert.Equal(t, int64(9), record.DeletedBy)
		require.NotNil(t, record.Plan)
		assert.NotEmpty(t, record.Plan.Steps)
	})
}

func TestDealService_ListActivities(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := createServices(t, db, nil)
	ctx := userContext(4, domain.RoleSalesRep)

	deal, err := svc.deals.Create(ctx, &domain.CreateDealRequest{Name: "Tracked", CustomerName: "Acme", MRC: 10})
	require.NoError(t, err)
	_, err = svc.deals.TransitionStage(ctx, deal.ID, domain.DealStageProposal)
	require.NoError(t, err)
	// same id, different entity
	testutil.CreateTestActivity(t, db, deal.ID, "customer")

	activities, err := svc.deals.ListActivities(ctx, deal.ID, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, domain.ActivityStageChanged, activities[0].Type)
	assert.Equal(t, domain.ActivityDealCreated, activities[1].Type)

	_, err = svc.deals.ListActivities(ctx, 31337, 10)
	assert.True(t, errors.Is(err, service.ErrDealNotFound))
}
