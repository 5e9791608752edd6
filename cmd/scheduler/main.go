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
	"golang.org/x/sync/errgroup"

	"chathub_backend/internal/batches"
	"chathub_backend/internal/events"
	"chathub_backend/internal/outbox"
	"chathub_backend/internal/pipeline"
	"chathub_backend/internal/scheduler"
	"chathub_backend/internal/tickets"
	"chathub_backend/platform/config"
	"chathub_backend/platform/db"
	"chathub_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	tenantID, err := uuid.Parse(cfg.GetDefaultTenantID())
	if err != nil {
		panic("DEFAULT_TENANT_ID must be a valid uuid: " + err.Error())
	}

	eventBus := events.NewInMemoryBus(log)

	outboxRepo := outbox.New(pool)
	if cfg.IsBrokerEnabled() {
		recorder := outbox.NewRecorder(outboxRepo, log)
		recorder.Attach(eventBus,
			"batches.orphans.detected",
			"batches.reprocess.requested",
			"tickets.ticket.reopened",
			"tickets.ticket.transferred",
		)
	}

	schedulerClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = schedulerClient.Close() }()

	invoker := pipeline.NewFunctionInvoker(cfg, log)
	runner := pipeline.NewRunner(invoker, cfg, log)

	monitor := batches.NewMonitor(tenantID, batches.New(pool), schedulerClient, cfg, eventBus, log)
	monitor.Start()
	defer monitor.Stop()

	// Ticket change feed: classify reopen/transfer transitions and re-drive
	// the conversation's media batch when a ticket comes back to life.
	reconciler := tickets.NewReconciler(cfg, eventBus, log)
	subscription := reconciler.Subscribe(tenantID, tickets.Callbacks{
		OnReopen: func(event tickets.ChangeEvent) {
			if event.New == nil || event.New.ConversationID == "" {
				return
			}
			if err := monitor.ForceProcessChat(ctx, event.New.ConversationID, tenantID); err != nil {
				log.Warn("reopen reprocess failed",
					"conversation_id", event.New.ConversationID,
					"error", err.Error(),
				)
			}
		},
	})
	defer subscription.Close()

	listener := tickets.NewListener(pool, reconciler, log)
	listener.Start()
	defer listener.Stop()

	worker, err := scheduler.NewWorker(cfg, pool, runner, invoker, eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.IsBrokerEnabled() {
		publisher := outbox.NewPublisher(cfg, log)
		defer func() { _ = publisher.Close() }()
		dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
		group.Go(func() error {
			dispatcher.Run(groupCtx)
			return nil
		})
		log.Info("outbox dispatcher started", "exchange", cfg.GetBrokerExchange())
	} else {
		log.Warn("BROKER_URL not configured; outbox dispatch disabled")
	}

	if cfg.IsPipelineEnabled() {
		trigger := scheduler.NewPipelineTrigger(schedulerClient, tenantID, cfg, log)
		group.Go(func() error {
			trigger.Run(groupCtx)
			return nil
		})
		log.Info("pipeline trigger started", "interval", cfg.GetPipelineRunInterval().String())
	} else {
		log.Warn("FUNCTIONS_BASE_URL not configured; periodic pipeline runs disabled")
	}

	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})

	_ = group.Wait()
	log.Info("scheduler stopped")
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
