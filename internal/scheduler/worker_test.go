package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"chathub_backend/internal/batches"
	"chathub_backend/platform/logger"
)

type fakeBatchStore struct {
	mu      sync.Mutex
	claimed []batches.Record
	done    []string
	reset   []string
}

func (s *fakeBatchStore) ClaimPending(_ context.Context, _ uuid.UUID, _ int) ([]batches.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]batches.Record(nil), s.claimed...), nil
}

func (s *fakeBatchStore) MarkDone(_ context.Context, conversationID string, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, conversationID)
	return nil
}

func (s *fakeBatchStore) ResetChatToPending(_ context.Context, conversationID string, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = append(s.reset, conversationID)
	return nil
}

type fakeInvoker struct {
	body json.RawMessage
	err  error
}

func (f *fakeInvoker) Invoke(_ context.Context, _, _ string) (json.RawMessage, error) {
	return f.body, f.err
}

func newReprocessWorker(store *fakeBatchStore, invoker *fakeInvoker) *Worker {
	return &Worker{
		invoker: invoker,
		batches: store,
		log:     logger.New("development"),
	}
}

func TestBatchReprocessMarksDoneOnCleanReply(t *testing.T) {
	store := &fakeBatchStore{claimed: []batches.Record{
		{ConversationID: "conv-1"},
		{ConversationID: "conv-2"},
	}}
	w := newReprocessWorker(store, &fakeInvoker{body: json.RawMessage(`{"success":true,"processed":2}`)})

	task, err := NewBatchReprocessTask(BatchReprocessPayload{TenantID: uuid.NewString()})
	if err != nil {
		t.Fatalf("NewBatchReprocessTask: %v", err)
	}

	if err := w.handleBatchReprocess(context.Background(), task); err != nil {
		t.Fatalf("handleBatchReprocess: %v", err)
	}
	if len(store.done) != 2 {
		t.Fatalf("expected 2 batches marked done, got %v", store.done)
	}
	if len(store.reset) != 0 {
		t.Fatalf("expected no resets, got %v", store.reset)
	}
}

func TestBatchReprocessReleasesClaimsOnStageReportedFailure(t *testing.T) {
	store := &fakeBatchStore{claimed: []batches.Record{
		{ConversationID: "conv-1"},
		{ConversationID: "conv-2"},
	}}
	w := newReprocessWorker(store, &fakeInvoker{body: json.RawMessage(`{"success":false,"error":"decrypt failed"}`)})

	task, err := NewBatchReprocessTask(BatchReprocessPayload{TenantID: uuid.NewString()})
	if err != nil {
		t.Fatalf("NewBatchReprocessTask: %v", err)
	}

	if err := w.handleBatchReprocess(context.Background(), task); err == nil {
		t.Fatal("expected error on stage-reported failure")
	}
	if len(store.done) != 0 {
		t.Fatalf("failed batches must not become done, got %v", store.done)
	}
	if len(store.reset) != 2 {
		t.Fatalf("expected both claims released to pending, got %v", store.reset)
	}
}

func TestBatchReprocessReleasesClaimsOnInvocationFailure(t *testing.T) {
	store := &fakeBatchStore{claimed: []batches.Record{{ConversationID: "conv-1"}}}
	w := newReprocessWorker(store, &fakeInvoker{err: errors.New("connection refused")})

	task, err := NewBatchReprocessTask(BatchReprocessPayload{TenantID: uuid.NewString()})
	if err != nil {
		t.Fatalf("NewBatchReprocessTask: %v", err)
	}

	if err := w.handleBatchReprocess(context.Background(), task); err == nil {
		t.Fatal("expected error on invocation failure")
	}
	if len(store.done) != 0 {
		t.Fatalf("expected no batches marked done, got %v", store.done)
	}
	if len(store.reset) != 1 {
		t.Fatalf("expected claim released to pending, got %v", store.reset)
	}
}
