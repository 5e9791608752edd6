package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"chathub_backend/internal/batches"
	"chathub_backend/internal/events"
	"chathub_backend/internal/pipeline"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// batchStore is the slice of the batches repository the worker touches.
type batchStore interface {
	ClaimPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]batches.Record, error)
	MarkDone(ctx context.Context, conversationID string, tenantID uuid.UUID) error
	ResetChatToPending(ctx context.Context, conversationID string, tenantID uuid.UUID) error
}

// Worker consumes scheduler tasks: full pipeline runs and batch
// reprocessing pushed by the emergency monitor.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	runner  *pipeline.Runner
	invoker pipeline.StageInvoker
	batches batchStore
	bus     events.Bus
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, runner *pipeline.Runner, invoker pipeline.StageInvoker, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		runner:  runner,
		invoker: invoker,
		batches: batches.New(pool),
		bus:     bus,
		log:     log,
	}

	mux.HandleFunc(TaskHybridPipelineRun, w.handleHybridPipelineRun)
	mux.HandleFunc(TaskBatchReprocess, w.handleBatchReprocess)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleHybridPipelineRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseHybridPipelineRunPayload(task)
	if err != nil {
		return err
	}

	trigger := payload.Trigger
	if trigger == "" {
		trigger = "scheduled"
	}

	report, err := w.runner.Run(ctx, trigger)
	if err != nil {
		return err
	}

	failed := 0
	for _, stage := range report.Stages {
		if !stage.OK {
			failed++
		}
	}
	w.log.Info("pipeline run completed",
		"trigger", trigger,
		"stages", len(report.Stages),
		"failed", failed,
	)
	return nil
}

// handleBatchReprocess re-drives recovered batches through the fallback
// stage. The monitor already reset the rows to pending; this handler claims
// them so the remote stage sees a consistent processing set.
func (w *Worker) handleBatchReprocess(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBatchReprocessPayload(task)
	if err != nil {
		return err
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}

	trigger := "reprocess"
	if payload.ConversationID != "" {
		trigger = "force:" + payload.ConversationID
	}

	claimed, err := w.batches.ClaimPending(ctx, tenantID, 50)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	body, err := w.invoker.Invoke(ctx, pipeline.StageFallback, trigger)
	if err != nil {
		w.releaseClaimed(ctx, claimed, tenantID)
		return err
	}

	// A 2xx reply can still carry a stage-reported failure in the body.
	// Those batches were not processed, so they must not become done.
	if result := pipeline.ClassifyStagePayload(pipeline.StageFallback, body); !result.OK {
		w.releaseClaimed(ctx, claimed, tenantID)
		return fmt.Errorf("fallback stage reported failure: %s", result.Error)
	}

	for _, rec := range claimed {
		if err := w.batches.MarkDone(ctx, rec.ConversationID, tenantID); err != nil {
			w.log.DatabaseError("batches.mark_done", err)
		}
	}

	w.log.Info("batch reprocess completed",
		"tenant_id", tenantID.String(),
		"count", len(claimed),
		"trigger", trigger,
	)
	return nil
}

// releaseClaimed returns claimed rows to pending so the monitor's next sweep
// picks them up again.
func (w *Worker) releaseClaimed(ctx context.Context, claimed []batches.Record, tenantID uuid.UUID) {
	for _, rec := range claimed {
		if err := w.batches.ResetChatToPending(ctx, rec.ConversationID, tenantID); err != nil {
			w.log.DatabaseError("batches.reset_chat", err)
		}
	}
}
