package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/database"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/http/handler"
	"github.com/straye-as/sales-pipeline-api/internal/http/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Router struct {
	cfg             *config.Config
	logger          *zap.Logger
	db              *gorm.DB
	authMiddleware  *auth.Middleware
	rateLimiter     *middleware.RateLimiter
	dealHandler     *handler.DealHandler
	customerHandler *handler.CustomerHandler
	wipHandler      *handler.WipHandler
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	dealHandler *handler.DealHandler,
	customerHandler *handler.CustomerHandler,
	wipHandler *handler.WipHandler,
) *Router {
	return &Router{
		cfg:             cfg,
		logger:          logger,
		db:              db,
		authMiddleware:  authMiddleware,
		rateLimiter:     rateLimiter,
		dealHandler:     dealHandler,
		customerHandler: customerHandler,
		wipHandler:      wipHandler,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Recovery sits inside Logging so panics are logged with their request id
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/health/db", rt.databaseHealth)
	r.Get("/health/ready", rt.readiness)

	if rt.cfg.Server.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if timeout := rt.cfg.Server.RequestTimeoutDuration(); timeout > 0 {
			r.Use(chimiddleware.Timeout(timeout))
		}
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.Limit)

		r.Route("/deals", func(r chi.Router) {
			r.Post("/", rt.dealHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.dealHandler.GetByID)
				r.Patch("/", rt.dealHandler.Update)
				r.Put("/stage", rt.dealHandler.UpdateStage)
				r.Get("/activities", rt.dealHandler.ListActivities)
				r.Get("/wip", rt.wipHandler.ListWip)
				r.Post("/wip", rt.wipHandler.CreateWip)
				r.Post("/installations", rt.wipHandler.CreateInstallation)

				// the service re-checks the role so non-HTTP callers are covered too
				r.With(rt.authMiddleware.RequireRole(domain.RoleSuperAdmin, domain.RoleAdmin)).
					Delete("/", rt.dealHandler.Delete)
			})
		})

		r.Route("/wip/{id}", func(r chi.Router) {
			r.Post("/updates", rt.wipHandler.AddUpdate)
			r.Post("/revenue", rt.wipHandler.RecognizeRevenue)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", rt.customerHandler.List)
			r.Delete("/{id}", rt.customerHandler.Delete)
		})
	})

	return r
}

// databaseHealth reports connection pool statistics
func (rt *Router) databaseHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := database.HealthCheckWithStats(rt.db)
	if err != nil {
		rt.logger.Error("database health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"service": "database",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "database",
		"stats": map[string]interface{}{
			"max_open_connections": stats.MaxOpenConnections,
			"open_connections":     stats.OpenConnections,
			"in_use":               stats.InUse,
			"idle":                 stats.Idle,
			"wait_count":           stats.WaitCount,
			"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		},
	})
}

func (rt *Router) readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "healthy"}
	status := http.StatusOK
	if err := database.HealthCheck(rt.db); err != nil {
		rt.logger.Error("readiness check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
