package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agrovia-erp/agrovia-erp/internal/app"
	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/items"
	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/locations"
	"github.com/agrovia-erp/agrovia-erp/internal/observability"
	"github.com/agrovia-erp/agrovia-erp/internal/platform/cache"
	"github.com/agrovia-erp/agrovia-erp/internal/platform/db"
	"github.com/agrovia-erp/agrovia-erp/internal/production"
	"github.com/agrovia-erp/agrovia-erp/internal/shared"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
	"github.com/agrovia-erp/agrovia-erp/internal/transfer"
	"github.com/agrovia-erp/agrovia-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool)
	balanceCache := stock.NewCache(redisClient, cfg.BalanceCacheTTL)
	stockService := stock.NewService(stockRepo, auditLogger, balanceCache, idempotencyStore, metrics, logger)
	stockHandler := stock.NewHandler(logger, stockService)

	itemsRepo := items.NewRepository(pool)
	itemsService := items.NewService(itemsRepo)
	itemsHandler := items.NewHandler(logger, itemsService)

	locationsRepo := locations.NewRepository(pool)
	locationsService := locations.NewService(locationsRepo)
	locationsHandler := locations.NewHandler(logger, locationsService)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, stockService, itemsService, approvalRecorder, auditLogger, logger)
	transferHandler := transfer.NewHandler(logger, transferService)

	productionRepo := production.NewRepository(pool)
	productionService := production.NewService(productionRepo, stockService, auditLogger, idempotencyStore, logger)
	productionHandler := production.NewHandler(logger, productionService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		StockHandler:      stockHandler,
		TransferHandler:   transferHandler,
		ProductionHandler: productionHandler,
		ItemsHandler:      itemsHandler,
		LocationsHandler:  locationsHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
