package batches

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chathub_backend/platform/apperr"
	"chathub_backend/platform/events"
	"chathub_backend/platform/logger"
)

type fakeStore struct {
	mu sync.Mutex

	stats    Stats
	statsErr error

	flagged    int64
	flaggedErr error

	reset    int64
	resetErr error

	resetChats []string
	sweeps     int
}

func (f *fakeStore) Stats(_ context.Context, _ uuid.UUID) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

func (f *fakeStore) MarkOrphaned(_ context.Context, _ uuid.UUID, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return f.flagged, f.flaggedErr
}

func (f *fakeStore) ResetOrphanedToPending(_ context.Context, _ uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reset, f.resetErr
}

func (f *fakeStore) ResetChatToPending(_ context.Context, conversationID string, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetChats = append(f.resetChats, conversationID)
	return f.resetErr
}

func (f *fakeStore) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakeReprocessor struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeReprocessor) EnqueueBatchReprocess(_ context.Context, conversationID string, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, conversationID)
	return f.err
}

func (f *fakeReprocessor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.enqueued...)
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.EventName())
	}
	return out
}

type monitorCfg struct {
	interval  time.Duration
	staleness time.Duration
	settle    time.Duration
}

func (c monitorCfg) GetMonitorInterval() time.Duration         { return c.interval }
func (c monitorCfg) GetBatchStalenessThreshold() time.Duration { return c.staleness }
func (c monitorCfg) GetMonitorSettleDelay() time.Duration      { return c.settle }

func newTestMonitor(store *fakeStore, reprocess *fakeReprocessor, bus *recordingBus, cfg monitorCfg) *Monitor {
	return NewMonitor(uuid.New(), store, reprocess, cfg, bus, logger.New("development"))
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	store := &fakeStore{}
	m := newTestMonitor(store, &fakeReprocessor{}, &recordingBus{}, monitorCfg{interval: 5 * time.Millisecond, staleness: time.Minute})

	m.Start()
	m.Start()

	deadline := time.Now().Add(time.Second)
	for store.sweepCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if store.sweepCount() < 2 {
		t.Fatalf("expected periodic sweeps, got %d", store.sweepCount())
	}

	m.Stop()
	m.Stop()

	after := store.sweepCount()
	time.Sleep(25 * time.Millisecond)
	if got := store.sweepCount(); got != after {
		t.Fatalf("sweeps continued after Stop: %d -> %d", after, got)
	}
}

func TestSweepRecoversOrphans(t *testing.T) {
	store := &fakeStore{flagged: 3, reset: 3, stats: Stats{Pending: 3}}
	reprocess := &fakeReprocessor{}
	bus := &recordingBus{}
	m := newTestMonitor(store, reprocess, bus, monitorCfg{interval: time.Hour, staleness: time.Minute})

	m.Start()
	deadline := time.Now().Add(time.Second)
	for len(reprocess.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()

	calls := reprocess.calls()
	if len(calls) != 1 || calls[0] != "" {
		t.Fatalf("expected one tenant-wide reprocess enqueue, got %v", calls)
	}

	names := bus.names()
	if len(names) != 2 || names[0] != "batches.orphans.detected" || names[1] != "batches.reprocess.requested" {
		t.Fatalf("unexpected events published: %v", names)
	}
}

func TestSweepCleanPublishesNothing(t *testing.T) {
	store := &fakeStore{flagged: 0}
	reprocess := &fakeReprocessor{}
	bus := &recordingBus{}
	m := newTestMonitor(store, reprocess, bus, monitorCfg{interval: time.Hour, staleness: time.Minute})

	m.Start()
	deadline := time.Now().Add(time.Second)
	for store.sweepCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()

	if got := reprocess.calls(); len(got) != 0 {
		t.Fatalf("expected no reprocess enqueues, got %v", got)
	}
	if got := bus.names(); len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestForceProcessChat(t *testing.T) {
	store := &fakeStore{}
	reprocess := &fakeReprocessor{}
	bus := &recordingBus{}
	m := newTestMonitor(store, reprocess, bus, monitorCfg{interval: time.Hour, staleness: time.Minute})

	if err := m.ForceProcessChat(context.Background(), "conv-1", m.tenantID); err != nil {
		t.Fatalf("ForceProcessChat: %v", err)
	}
	if len(store.resetChats) != 1 || store.resetChats[0] != "conv-1" {
		t.Fatalf("expected conv-1 reset, got %v", store.resetChats)
	}
	if calls := reprocess.calls(); len(calls) != 1 || calls[0] != "conv-1" {
		t.Fatalf("expected conv-1 enqueued, got %v", calls)
	}
	if names := bus.names(); len(names) != 1 || names[0] != "batches.reprocess.requested" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestForceProcessChatRejectsUnknownTenant(t *testing.T) {
	m := newTestMonitor(&fakeStore{}, &fakeReprocessor{}, &recordingBus{}, monitorCfg{interval: time.Hour, staleness: time.Minute})

	err := m.ForceProcessChat(context.Background(), "conv-1", uuid.New())
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	err = m.ForceProcessChat(context.Background(), "", m.tenantID)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestForceProcessChatMissingBatch(t *testing.T) {
	store := &fakeStore{resetErr: pgx.ErrNoRows}
	m := newTestMonitor(store, &fakeReprocessor{}, &recordingBus{}, monitorCfg{interval: time.Hour, staleness: time.Minute})

	err := m.ForceProcessChat(context.Background(), "conv-missing", m.tenantID)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestManualCleanup(t *testing.T) {
	store := &fakeStore{reset: 7}
	reprocess := &fakeReprocessor{}
	m := newTestMonitor(store, reprocess, &recordingBus{}, monitorCfg{interval: time.Hour, staleness: time.Minute})

	n, err := m.ManualCleanup(context.Background())
	if err != nil {
		t.Fatalf("ManualCleanup: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 recovered, got %d", n)
	}
	if calls := reprocess.calls(); len(calls) != 1 || calls[0] != "" {
		t.Fatalf("expected tenant-wide enqueue, got %v", calls)
	}
}

func TestManualCleanupNoOrphans(t *testing.T) {
	store := &fakeStore{reset: 0}
	reprocess := &fakeReprocessor{}
	m := newTestMonitor(store, reprocess, &recordingBus{}, monitorCfg{interval: time.Hour, staleness: time.Minute})

	n, err := m.ManualCleanup(context.Background())
	if err != nil {
		t.Fatalf("ManualCleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 recovered, got %d", n)
	}
	if calls := reprocess.calls(); len(calls) != 0 {
		t.Fatalf("expected no enqueues when nothing recovered, got %v", calls)
	}
}

func TestGetBatchStats(t *testing.T) {
	store := &fakeStore{stats: Stats{Pending: 2, Processing: 1, Orphaned: 4}}
	m := newTestMonitor(store, &fakeReprocessor{}, &recordingBus{}, monitorCfg{interval: time.Hour, staleness: time.Minute})

	stats, err := m.GetBatchStats(context.Background())
	if err != nil {
		t.Fatalf("GetBatchStats: %v", err)
	}
	if stats != (Stats{Pending: 2, Processing: 1, Orphaned: 4}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	store.mu.Lock()
	store.statsErr = pgx.ErrNoRows
	store.mu.Unlock()
	if _, err := m.GetBatchStats(context.Background()); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found for missing tenant, got %v", err)
	}
}
