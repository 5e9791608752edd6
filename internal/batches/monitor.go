package batches

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chathub_backend/internal/events"
	"chathub_backend/platform/apperr"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// Store is the slice of the repository the monitor needs.
type Store interface {
	Stats(ctx context.Context, tenantID uuid.UUID) (Stats, error)
	MarkOrphaned(ctx context.Context, tenantID uuid.UUID, threshold time.Duration) (int64, error)
	ResetOrphanedToPending(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ResetChatToPending(ctx context.Context, conversationID string, tenantID uuid.UUID) error
}

// Reprocessor hands recovered batches to the async worker. conversationID is
// empty for a tenant-wide sweep.
type Reprocessor interface {
	EnqueueBatchReprocess(ctx context.Context, conversationID string, tenantID uuid.UUID) error
}

// Monitor is the per-tenant safety net for batches that stall mid-flight.
// It periodically flags stale batches as orphaned and pushes them back
// through the processing path.
type Monitor struct {
	tenantID  uuid.UUID
	store     Store
	reprocess Reprocessor
	bus       events.Bus
	log       *logger.Logger

	interval  time.Duration
	staleness time.Duration
	settle    time.Duration

	quiet *ttlSet
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for one tenant. Call Start to begin sweeping.
func NewMonitor(tenantID uuid.UUID, store Store, reprocess Reprocessor, cfg config.MonitorConfig, bus events.Bus, log *logger.Logger) *Monitor {
	return &Monitor{
		tenantID:  tenantID,
		store:     store,
		reprocess: reprocess,
		bus:       bus,
		log:       log,
		interval:  cfg.GetMonitorInterval(),
		staleness: cfg.GetBatchStalenessThreshold(),
		settle:    cfg.GetMonitorSettleDelay(),
		quiet:     newTTLSet(10*time.Minute, 256),
		sleep:     sleepCtx,
	}
}

// Start launches the sweep loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.log.Info("batch monitor started",
		"tenant_id", m.tenantID.String(),
		"interval", m.interval.String(),
		"staleness_threshold", m.staleness.String(),
	)
	go m.run(ctx, m.done)
}

// Stop halts the sweep loop and waits for an in-flight sweep to unwind.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info("batch monitor stopped", "tenant_id", m.tenantID.String())
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep is one pass of the recovery loop: flag stale batches, then push the
// orphans back to pending and enqueue reprocessing.
func (m *Monitor) sweep(ctx context.Context) {
	flagged, err := m.store.MarkOrphaned(ctx, m.tenantID, m.staleness)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if isTenantMissing(err) {
			if !m.quiet.Seen("tenant-missing") {
				m.log.Warn("batch sweep skipped, tenant not found", "tenant_id", m.tenantID.String())
			}
			return
		}
		m.log.DatabaseError("batches.mark_orphaned", err)
		return
	}

	if flagged == 0 {
		if !m.quiet.Seen("no-orphans") {
			m.log.Info("batch sweep clean", "tenant_id", m.tenantID.String())
		}
		return
	}

	m.log.Warn("orphaned batches detected", "tenant_id", m.tenantID.String(), "count", flagged)
	if m.bus != nil {
		m.bus.Publish(ctx, events.BatchOrphansDetected{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  m.tenantID,
			Count:     flagged,
		})
	}

	if _, err := m.recoverOrphans(ctx, false); err != nil {
		if ctx.Err() == nil {
			m.log.Error("batch reprocess failed", "tenant_id", m.tenantID.String(), "error", err.Error())
		}
		return
	}

	// Let the re-armed batches get picked up before reporting the new state.
	if err := m.sleep(ctx, m.settle); err != nil {
		return
	}
	stats, err := m.store.Stats(ctx, m.tenantID)
	if err != nil {
		if ctx.Err() == nil {
			m.log.DatabaseError("batches.stats", err)
		}
		return
	}
	m.log.Info("batch recovery settled",
		"tenant_id", m.tenantID.String(),
		"pending", stats.Pending,
		"processing", stats.Processing,
		"orphaned", stats.Orphaned,
	)
}

// recoverOrphans is the shared reprocessing primitive behind the periodic
// sweep and ManualCleanup: reset every orphan to pending and enqueue one
// tenant-wide reprocess task.
func (m *Monitor) recoverOrphans(ctx context.Context, manual bool) (int64, error) {
	reset, err := m.store.ResetOrphanedToPending(ctx, m.tenantID)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned batches: %w", err)
	}
	if reset == 0 {
		return 0, nil
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.BatchReprocessRequested{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  m.tenantID,
			Manual:    manual,
		})
	}
	if m.reprocess != nil {
		if err := m.reprocess.EnqueueBatchReprocess(ctx, "", m.tenantID); err != nil {
			return reset, fmt.Errorf("enqueue batch reprocess: %w", err)
		}
	}
	return reset, nil
}

// GetBatchStats returns the current non-terminal status counts. Safe to call
// whether or not the monitor is running.
func (m *Monitor) GetBatchStats(ctx context.Context) (Stats, error) {
	stats, err := m.store.Stats(ctx, m.tenantID)
	if err != nil {
		if isTenantMissing(err) {
			return Stats{}, apperr.NotFound("tenant not found")
		}
		return Stats{}, apperr.Wrap(apperr.KindInternal, "query batch stats", err)
	}
	return stats, nil
}

// ForceProcessChat re-arms one conversation's batch regardless of its
// current status and enqueues it for immediate reprocessing.
func (m *Monitor) ForceProcessChat(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if conversationID == "" {
		return apperr.Validation("conversationId is required")
	}
	if tenantID != m.tenantID {
		return apperr.NotFound("tenant not found")
	}

	if err := m.store.ResetChatToPending(ctx, conversationID, tenantID); err != nil {
		if isTenantMissing(err) {
			return apperr.NotFound("batch not found for conversation")
		}
		return apperr.Wrap(apperr.KindInternal, "reset batch to pending", err)
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.BatchReprocessRequested{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: conversationID,
			TenantID:       tenantID,
			Manual:         true,
		})
	}
	if m.reprocess != nil {
		if err := m.reprocess.EnqueueBatchReprocess(ctx, conversationID, tenantID); err != nil {
			return apperr.Wrap(apperr.KindInternal, "enqueue batch reprocess", err)
		}
	}
	return nil
}

// ManualCleanup sweeps all orphaned batches back to pending in one pass and
// returns how many were recovered.
func (m *Monitor) ManualCleanup(ctx context.Context) (int64, error) {
	reset, err := m.recoverOrphans(ctx, true)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "manual batch cleanup", err)
	}
	return reset, nil
}

func isTenantMissing(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
