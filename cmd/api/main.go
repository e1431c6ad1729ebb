package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/cascade"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/database"
	"github.com/straye-as/sales-pipeline-api/internal/http/handler"
	"github.com/straye-as/sales-pipeline-api/internal/http/middleware"
	"github.com/straye-as/sales-pipeline-api/internal/http/router"
	"github.com/straye-as/sales-pipeline-api/internal/jobs"
	"github.com/straye-as/sales-pipeline-api/internal/logger"
	"github.com/straye-as/sales-pipeline-api/internal/repository"
	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"github.com/straye-as/sales-pipeline-api/internal/storage"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Plain config first so the logger exists before secrets are resolved
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("error closing database", zap.Error(err))
		}
	}()

	catalog, err := schema.NewCatalog(db)
	if err != nil {
		return fmt.Errorf("failed to initialize schema catalog: %w", err)
	}

	dealRepo := repository.NewDealRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	wipRepo := repository.NewWipRepository(db)

	var archive *service.DeletionArchive
	if cfg.Deletion.ArchiveEnabled {
		store, err := storage.NewStore(&cfg.Storage, log)
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		archive = service.NewDeletionArchive(store, log)
		log.Info("deletion archive enabled", zap.String("mode", cfg.Storage.Mode))
	}

	planner := cascade.NewPlanner(db, catalog, log)
	executor := cascade.NewExecutor(db, planner, cascade.Options{
		DeferredFallback: cfg.Deletion.EnableDeferredFallback,
		DirectFallback:   cfg.Deletion.EnableDirectFallback,
		DealOnlyFallback: cfg.Deletion.EnableDealOnlyFallback,
	}, log)

	recorder := service.NewActivityRecorder(activityRepo, catalog, log)
	customerService := service.NewCustomerService(customerRepo, dealRepo, log, db)
	dealService := service.NewDealService(
		dealRepo,
		customerService,
		recorder,
		planner,
		executor,
		catalog,
		archive,
		service.DealRulesFromConfig(&cfg.Deals),
		log,
	)
	wipService := service.NewWipService(wipRepo, dealRepo, log)

	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(
		cfg,
		log,
		db,
		authMiddleware,
		rateLimiter,
		handler.NewDealHandler(dealService, log),
		handler.NewCustomerHandler(customerService, log),
		handler.NewWipHandler(wipService, log),
	)

	scheduler := jobs.NewScheduler(log)
	sweeper := cascade.NewSweeper(db, catalog, log)
	if _, err := jobs.RegisterOrphanSweepJob(scheduler, sweeper, &cfg.Jobs, log); err != nil {
		return fmt.Errorf("failed to register orphan sweep job: %w", err)
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           rt.Setup(),
		ReadTimeout:       cfg.Server.ReadTimeoutDuration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		<-scheduler.Stop().Done()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown gracefully", zap.Error(err))
			return err
		}

		// let a running sweep finish, bounded by the same deadline
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("scheduler did not stop before shutdown deadline")
		}

		log.Info("server stopped gracefully")
	}

	return nil
}
