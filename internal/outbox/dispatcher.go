package outbox

import (
	"context"
	"time"

	"chathub_backend/platform/logger"
)

const (
	dispatchInterval = 2 * time.Second
	dispatchBatch    = 50
	maxAttempts      = 10
)

// Dispatcher drains pending outbox events to the broker on a fixed cadence.
// Failed publishes go back to pending until the attempt cap, then fail hard.
type Dispatcher struct {
	repo      *Repository
	publisher *Publisher
	log       *logger.Logger
}

func NewDispatcher(repo *Repository, publisher *Publisher, log *logger.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, publisher: publisher, log: log}
}

// Run blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil || d.repo == nil || d.publisher == nil {
		return
	}

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := d.repo.ClaimPending(ctx, dispatchBatch)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Warn("outbox claim failed", "error", err.Error())
			}
			continue
		}

		for _, rec := range records {
			if err := d.publisher.Publish(ctx, rec); err != nil {
				d.requeue(ctx, rec, err)
				continue
			}
			if err := d.repo.MarkPublished(ctx, rec.ID); err != nil {
				d.log.DatabaseError("outbox.mark_published", err)
			}
		}
	}
}

func (d *Dispatcher) requeue(ctx context.Context, rec Record, cause error) {
	msg := cause.Error()
	if rec.Attempts >= maxAttempts {
		d.log.Error("outbox event exhausted attempts",
			"event", rec.EventName,
			"outbox_id", rec.ID.String(),
			"attempts", rec.Attempts,
			"error", msg,
		)
		if err := d.repo.MarkFailed(ctx, rec.ID, msg); err != nil {
			d.log.DatabaseError("outbox.mark_failed", err)
		}
		return
	}

	d.log.Warn("outbox publish failed, requeued",
		"event", rec.EventName,
		"outbox_id", rec.ID.String(),
		"attempts", rec.Attempts,
		"error", msg,
	)
	if err := d.repo.MarkPending(ctx, rec.ID, &msg); err != nil {
		d.log.DatabaseError("outbox.mark_pending", err)
	}
}
