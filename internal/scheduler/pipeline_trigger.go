package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

const defaultPipelineRunInterval = 5 * time.Minute

// PipelineTrigger periodically enqueues a full hybrid pipeline run. The
// worker picks the task up and drives the stage chain.
type PipelineTrigger struct {
	client   *Client
	tenantID uuid.UUID
	interval time.Duration
	log      *logger.Logger
}

func NewPipelineTrigger(client *Client, tenantID uuid.UUID, cfg config.PipelineConfig, log *logger.Logger) *PipelineTrigger {
	interval := cfg.GetPipelineRunInterval()
	if interval <= 0 {
		interval = defaultPipelineRunInterval
	}

	return &PipelineTrigger{
		client:   client,
		tenantID: tenantID,
		interval: interval,
		log:      log,
	}
}

func (t *PipelineTrigger) Run(ctx context.Context) {
	if t == nil || t.client == nil {
		return
	}

	t.enqueue(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.enqueue(ctx)
		}
	}
}

func (t *PipelineTrigger) enqueue(ctx context.Context) {
	if err := t.client.EnqueueHybridPipelineRun(ctx, "scheduled", t.tenantID); err != nil {
		t.log.Warn("failed to enqueue pipeline run", "error", err)
		return
	}
	t.log.Debug("pipeline run enqueued", "tenant_id", t.tenantID.String())
}
