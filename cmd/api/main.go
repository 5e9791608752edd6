package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chathub_backend/internal/batches"
	"chathub_backend/internal/delivery"
	"chathub_backend/internal/events"
	"chathub_backend/internal/gateway"
	apphttp "chathub_backend/internal/http"
	"chathub_backend/internal/media"
	"chathub_backend/internal/outbox"
	"chathub_backend/internal/pipeline"
	"chathub_backend/internal/scheduler"
	"chathub_backend/migrations"
	"chathub_backend/platform/config"
	"chathub_backend/platform/db"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	tenantID, err := uuid.Parse(cfg.GetDefaultTenantID())
	if err != nil {
		panic("DEFAULT_TENANT_ID must be a valid uuid: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Durable event relay: record domain events for broker publication.
	if cfg.IsBrokerEnabled() {
		recorder := outbox.NewRecorder(outbox.New(pool), log)
		recorder.Attach(eventBus,
			"media.delivery.succeeded",
			"media.delivery.exhausted",
			"batches.orphans.detected",
			"batches.reprocess.requested",
			"tickets.ticket.reopened",
			"tickets.ticket.transferred",
		)
		log.Info("outbox recorder attached", "exchange", cfg.GetBrokerExchange())
	}

	// Media store for file-key payload resolution (MinIO)
	var mediaStore *media.Store
	if cfg.IsMinIOEnabled() {
		mediaStore, err = media.NewStore(cfg)
		if err != nil {
			log.Error("failed to initialize media store", "error", err)
			panic("failed to initialize media store: " + err.Error())
		}
		if err := withRetry(ctx, log, "ensure media bucket", 5, 2*time.Second, func() error {
			return mediaStore.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure media bucket", "error", err, "bucket", cfg.GetMinioBucketMedia())
			panic("failed to ensure media bucket: " + err.Error())
		}
		log.Info("media store initialized", "bucket", cfg.GetMinioBucketMedia())
	}

	schedulerClient, closeScheduler := initSchedulerClient(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Shared validator instance for dependency injection
	val := validator.New()

	gatewayClient := gateway.NewClient(cfg, log)
	retrier := delivery.NewRetrier(gatewayClient, cfg, eventBus, log)
	deliveryHandler := delivery.NewHandler(retrier, payloadStore(mediaStore), val, log)

	invoker := pipeline.NewFunctionInvoker(cfg, log)
	runner := pipeline.NewRunner(invoker, cfg, log)
	pipelineHandler := pipeline.NewHandler(runner, log)

	batchRepo := batches.New(pool)
	monitor := batches.NewMonitor(tenantID, batchRepo, schedulerClient, cfg, eventBus, log)
	batchesHandler := batches.NewHandler(monitor, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			apphttp.NewModule("delivery", deliveryHandler.RegisterRoutes),
			apphttp.NewModule("pipeline", pipelineHandler.RegisterRoutes),
			apphttp.NewModule("batches", batchesHandler.RegisterRoutes),
		},
	}

	engine := apphttp.NewRouter(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// payloadStore avoids handing the handler a typed nil when MinIO is off.
func payloadStore(store *media.Store) delivery.PayloadStore {
	if store == nil {
		return nil
	}
	return store
}

func initSchedulerClient(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; async batch reprocessing disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
