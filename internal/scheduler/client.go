package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"chathub_backend/platform/config"
)

// Client enqueues async work for the scheduler worker.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueHybridPipelineRun queues one full pipeline run.
func (c *Client) EnqueueHybridPipelineRun(ctx context.Context, trigger string, tenantID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewHybridPipelineRunTask(HybridPipelineRunPayload{
		Trigger:  trigger,
		TenantID: tenantID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

// EnqueueBatchReprocess queues recovered batches for the fallback stage.
// Satisfies the batch monitor's Reprocessor interface.
func (c *Client) EnqueueBatchReprocess(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewBatchReprocessTask(BatchReprocessPayload{
		ConversationID: conversationID,
		TenantID:       tenantID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
