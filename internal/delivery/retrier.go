// Package delivery sends outbound media through the external gateway with a
// bounded, increasing-delay retry policy.
package delivery

import (
	"context"
	"fmt"
	"time"

	"chathub_backend/internal/events"
	"chathub_backend/internal/gateway"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// MaxSendAttempts bounds the retry policy for one logical send.
const MaxSendAttempts = 3

const defaultBaseDelay = time.Second

// MediaSendJob is the unit of one outbound send. It lives for the duration of
// a single Send call; the attempt counter is its only mutable state.
type MediaSendJob struct {
	Payload        []byte
	FileName       string
	MIMEType       string
	MediaKind      gateway.MediaKind
	ConversationID string
	InstanceID     string
	CorrelationID  string
	Caption        string
	DelayMs        int
	Attempts       int
	MaxAttempts    int
}

// NewMediaSendJob constructs a job with the fixed attempt budget.
func NewMediaSendJob(payload []byte, fileName, mimeType string, kind gateway.MediaKind, instanceID, conversationID, correlationID string) *MediaSendJob {
	return &MediaSendJob{
		Payload:        payload,
		FileName:       fileName,
		MIMEType:       mimeType,
		MediaKind:      kind,
		InstanceID:     instanceID,
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		MaxAttempts:    MaxSendAttempts,
	}
}

// Result reports the terminal outcome of one send job.
type Result struct {
	Success  bool
	Attempts int
	Message  string
	Err      error
}

// Sender is the gateway surface the retrier drives.
type Sender interface {
	SendMediaFile(ctx context.Context, instanceID, conversationID string, file gateway.File, opts gateway.SendOptions) (*gateway.SendResponse, error)
}

// Retrier drives a MediaSendJob through the gateway with linear backoff:
// the wait before retry N+1 is N times the base delay.
type Retrier struct {
	sender    Sender
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	bus       events.Bus
	log       *logger.Logger
}

// NewRetrier creates a retrier over the given sender.
func NewRetrier(sender Sender, cfg config.DeliveryConfig, bus events.Bus, log *logger.Logger) *Retrier {
	baseDelay := cfg.GetSendRetryBaseDelay()
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Retrier{
		sender:    sender,
		baseDelay: baseDelay,
		sleep:     sleepCtx,
		bus:       bus,
		log:       log,
	}
}

// Send attempts the job until it succeeds or the attempt budget is spent.
// All gateway errors are treated as retryable; the first success returns
// immediately. Exhaustion surfaces the last error, never a swallowed one.
func (r *Retrier) Send(ctx context.Context, job *MediaSendJob) Result {
	if job.MaxAttempts < 1 {
		job.MaxAttempts = MaxSendAttempts
	}

	// The gateway file representation is built once and reused across attempts.
	file := gateway.File{
		Name:     job.FileName,
		MIMEType: job.MIMEType,
		Data:     job.Payload,
	}
	opts := gateway.SendOptions{
		DelayMs:       job.DelayMs,
		CorrelationID: job.CorrelationID,
		Caption:       job.Caption,
		MediaKind:     job.MediaKind,
	}

	var lastErr error
	for job.Attempts < job.MaxAttempts {
		job.Attempts++

		resp, err := r.sender.SendMediaFile(ctx, job.InstanceID, job.ConversationID, file, opts)
		if err == nil {
			r.publishSuccess(ctx, job)
			message := fmt.Sprintf("delivered on attempt %d/%d", job.Attempts, job.MaxAttempts)
			if resp != nil && resp.MessageID != "" {
				message = fmt.Sprintf("%s (gateway message %s)", message, resp.MessageID)
			}
			return Result{Success: true, Attempts: job.Attempts, Message: message}
		}

		lastErr = err
		r.log.GatewayError("send_media", job.InstanceID, job.Attempts, err)

		if job.Attempts >= job.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, time.Duration(job.Attempts)*r.baseDelay); err != nil {
			lastErr = err
			break
		}
	}

	r.publishExhausted(ctx, job, lastErr)
	return Result{
		Success:  false,
		Attempts: job.Attempts,
		Message:  fmt.Sprintf("all %d attempts failed", job.Attempts),
		Err:      lastErr,
	}
}

func (r *Retrier) publishSuccess(ctx context.Context, job *MediaSendJob) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, events.MediaDeliverySucceeded{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: job.ConversationID,
		InstanceID:     job.InstanceID,
		CorrelationID:  job.CorrelationID,
		MediaKind:      string(job.MediaKind),
		Attempts:       job.Attempts,
	})
}

func (r *Retrier) publishExhausted(ctx context.Context, job *MediaSendJob, lastErr error) {
	if r.bus == nil {
		return
	}
	lastError := ""
	if lastErr != nil {
		lastError = lastErr.Error()
	}
	r.bus.Publish(ctx, events.MediaDeliveryExhausted{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: job.ConversationID,
		InstanceID:     job.InstanceID,
		CorrelationID:  job.CorrelationID,
		MediaKind:      string(job.MediaKind),
		Attempts:       job.Attempts,
		LastError:      lastError,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
