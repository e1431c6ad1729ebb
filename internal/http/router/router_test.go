package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/cascade"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/http/handler"
	"github.com/straye-as/sales-pipeline-api/internal/http/middleware"
	"github.com/straye-as/sales-pipeline-api/internal/http/router"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"github.com/straye-as/sales-pipeline-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAPIKey = "test-admin-key"

type testServer struct {
	handler http.Handler
	db      *gorm.DB
	cfg     *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()

	cfg := &config.Config{
		App:       config.AppConfig{Environment: "test"},
		Auth:      config.AuthConfig{SessionSecret: "router-test-secret", SessionCookie: "session", Issuer: "sales-pipeline-api", SessionTTL: 60},
		ApiKey:    config.ApiKeyConfig{Value: testAPIKey},
		Server:    config.ServerConfig{EnableMetrics: true},
		Security:  config.SecurityConfig{ContentTypeNosniff: true, FrameOptions: "DENY"},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 1000, RequestsPerMinuteAuth: 1000},
		Deals:     config.DealsConfig{ZeroValuePolicy: "sentinel", DefaultContractLength: 12},
	}

	catalog, err := schema.NewCatalog(db)
	require.NoError(t, err)

	dealRepo := repository.NewDealRepository(db)
	customers := service.NewCustomerService(repository.NewCustomerRepository(db), dealRepo, log, db)
	planner := cascade.NewPlanner(db, catalog, log)
	deals := service.NewDealService(
		dealRepo,
		customers,
		service.NewActivityRecorder(repository.NewActivityRepository(db), catalog, log),
		planner,
		cascade.NewExecutor(db, planner, cascade.DefaultOptions(), log),
		catalog,
		nil,
		service.DealRulesFromConfig(&cfg.Deals),
		log,
	)
	wips := service.NewWipService(repository.NewWipRepository(db), dealRepo, log)

	rt := router.NewRouter(
		cfg,
		log,
		db,
		auth.NewMiddleware(cfg, log),
		middleware.NewRateLimiter(&cfg.RateLimit, log),
		handler.NewDealHandler(deals, log),
		handler.NewCustomerHandler(customers, log),
		handler.NewWipHandler(wips, log),
	)
	return &testServer{handler: rt.Setup(), db: db, cfg: cfg}
}

// as describes who sends a request: an empty role means the admin API key
type as struct {
	userID int64
	role   domain.UserRole
}

var admin = as{}

func (s *testServer) do(t *testing.T, who as, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.role == "" {
		req.Header.Set("x-api-key", testAPIKey)
	} else {
		token, err := auth.NewSessionTokens(&s.cfg.Auth).Issue(&auth.UserContext{UserID: who.userID, Role: who.role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/health/db", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"), path)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader), path)
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDealLifecycle(t *testing.T) {
	srv := newTestServer(t)
	rep := as{userID: 11, role: domain.RoleSalesRep}

	rec := srv.do(t, rep, http.MethodPost, "/api/v1/deals", map[string]interface{}{
		"name":           "Office fiber",
		"customerName":   "Acme",
		"mrc":            100,
		"nrc":            200,
		"contractLength": 12,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.DealDTO](t, rec)
	assert.Equal(t, 1400.0, created.Value)
	assert.Equal(t, int64(11), created.UserID)
	base := "/api/v1/deals/" + strconv.FormatInt(created.ID, 10)
	assert.Equal(t, base, rec.Header().Get("Location"))

	rec = srv.do(t, rep, http.MethodPatch, base, map[string]interface{}{"mrc": 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2600.0, decode[domain.DealDTO](t, rec).Value)

	rec = srv.do(t, rep, http.MethodPut, base+"/stage", map[string]string{"stage": "closed_won"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	won := decode[domain.DealDTO](t, rec)
	assert.Equal(t, domain.DealStageClosedWon, won.Stage)
	assert.NotNil(t, won.ClosedDate)

	rec = srv.do(t, rep, http.MethodPost, base+"/wip", map[string]string{"notes": "kickoff"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wip := decode[domain.WipDTO](t, rec)
	wipPath := "/api/v1/wip/" + strconv.FormatInt(wip.ID, 10)

	rec = srv.do(t, rep, http.MethodPost, wipPath+"/updates", map[string]string{"note": "cabling done"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = srv.do(t, rep, http.MethodPost, wipPath+"/revenue", map[string]interface{}{"month": "2026-03", "amount": 99.999})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 100.0, decode[domain.RevenueRecognitionDTO](t, rec).Amount)
	rec = srv.do(t, rep, http.MethodPost, base+"/installations", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, rep, http.MethodGet, base+"/activities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activities := decode[[]domain.ActivityDTO](t, rec)
	require.Len(t, activities, 3)
	assert.Equal(t, domain.ActivityStageChanged, activities[0].Type)

	rec = srv.do(t, rep, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, admin, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[domain.DeleteDealResponse](t, rec)
	assert.True(t, result.Deleted)
	assert.Equal(t, string(cascade.PathPrimary), result.Path)

	for _, table := range []string{"deals", "wip", "wip_updates", "revenue_recognition", "installations"} {
		assert.Zero(t, testutil.CountRows(t, srv.db, table, ""), table)
	}

	rec = srv.do(t, rep, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(t, admin, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDealValidation(t *testing.T) {
	srv := newTestServer(t)
	rep := as{userID: 3, role: domain.RoleSalesRep}

	t.Run("missing fields", func(t *testing.T) {
		rec := srv.do(t, rep, http.MethodPost, "/api/v1/deals", map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeValidation, body.Type)
		assert.Contains(t, body.Errors, "name")
		assert.Contains(t, body.Errors, "customerName")
	})

	t.Run("unknown stage", func(t *testing.T) {
		rec := srv.do(t, rep, http.MethodPost, "/api/v1/deals", map[string]string{
			"name": "x", "customerName": "y", "stage": "won",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/deals", bytes.NewBufferString(`{"name":`))
		req.Header.Set("x-api-key", testAPIKey)
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := srv.do(t, rep, http.MethodGet, "/api/v1/deals/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = srv.do(t, rep, http.MethodGet, "/api/v1/deals/0", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad revenue month", func(t *testing.T) {
		deal := testutil.CreateTestDeal(t, srv.db, "Revenue", nil)
		wip := testutil.CreateTestWip(t, srv.db, deal.ID)
		rec := srv.do(t, rep, http.MethodPost, "/api/v1/wip/"+strconv.FormatInt(wip.ID, 10)+"/revenue",
			map[string]interface{}{"month": "March", "amount": 5})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[domain.APIError](t, rec).Errors, "month")
	})

	t.Run("wip for missing deal", func(t *testing.T) {
		rec := srv.do(t, rep, http.MethodPost, "/api/v1/deals/9999/wip", map[string]string{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDealDelete_Failure(t *testing.T) {
	srv := newTestServer(t)
	deal := testutil.CreateTestDeal(t, srv.db, "Stuck", nil)
	testutil.FailDeletes(t, srv.db, "deals", -1)

	rec := srv.do(t, admin, http.MethodDelete, "/api/v1/deals/"+strconv.FormatInt(deal.ID, 10), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[domain.APIError](t, rec)
	assert.Equal(t, "Deal could not be deleted", body.Detail)
	assert.NotContains(t, rec.Body.String(), "injected")
}

func TestCustomers(t *testing.T) {
	srv := newTestServer(t)
	customer := testutil.CreateTestCustomer(t, srv.db, "Initech")
	deal := testutil.CreateTestDeal(t, srv.db, "Printers", &customer.ID)
	customerPath := "/api/v1/customers/" + strconv.FormatInt(customer.ID, 10)

	rec := srv.do(t, as{userID: 4, role: domain.RoleManager}, http.MethodGet, "/api/v1/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.CustomerDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].DealCount)

	rec = srv.do(t, as{userID: 4, role: domain.RoleManager}, http.MethodDelete, customerPath, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, admin, http.MethodDelete, customerPath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, admin, http.MethodDelete, "/api/v1/deals/"+strconv.FormatInt(deal.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, admin, http.MethodDelete, customerPath, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(t, admin, http.MethodDelete, customerPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
