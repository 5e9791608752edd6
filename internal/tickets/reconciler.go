package tickets

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chathub_backend/internal/events"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// Callbacks are invoked by the reconciler as change events are classified.
// Any callback may be nil. OnUpdate fires for every update; OnReopen and
// OnTransfer fire additionally when the transition matches.
type Callbacks struct {
	OnUpdate   func(ChangeEvent)
	OnReopen   func(ChangeEvent)
	OnTransfer func(ChangeEvent)
}

// Subscription is one tenant's registration with the reconciler. Close is
// idempotent and cancels any pending settle timers.
type Subscription struct {
	id       uuid.UUID
	tenantID uuid.UUID
	cb       Callbacks
	rec      *Reconciler

	mu      sync.Mutex
	closed  bool
	pending map[*time.Timer]struct{}

	// delivering is held across every callback invocation so Close can
	// join in-flight deliveries before returning.
	delivering sync.Mutex
}

// Close detaches the subscription. No callback fires after Close returns.
// Must not be called from inside one of the subscription's own callbacks.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timers := make([]*time.Timer, 0, len(s.pending))
	for t := range s.pending {
		timers = append(timers, t)
	}
	s.pending = nil
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}

	// Barrier: wait out a delivery that raced past the closed check.
	s.delivering.Lock()
	s.delivering.Unlock() //nolint:staticcheck // empty critical section is the join

	s.rec.drop(s)
}

// Reconciler classifies ticket change events and fans them out to per-tenant
// subscribers. Events for one tenant are delivered in feed order; a reopen
// triggers one extra settle update after a short delay so late row images
// are observed.
type Reconciler struct {
	settle time.Duration
	bus    events.Bus
	log    *logger.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID][]*Subscription
}

// NewReconciler creates a ticket change reconciler.
func NewReconciler(cfg config.ReconcilerConfig, bus events.Bus, log *logger.Logger) *Reconciler {
	return &Reconciler{
		settle: cfg.GetReconcilerSettleDelay(),
		bus:    bus,
		log:    log,
		subs:   make(map[uuid.UUID][]*Subscription),
	}
}

// Subscribe registers callbacks for one tenant's change feed.
func (r *Reconciler) Subscribe(tenantID uuid.UUID, cb Callbacks) *Subscription {
	sub := &Subscription{
		id:       uuid.New(),
		tenantID: tenantID,
		cb:       cb,
		rec:      r,
		pending:  make(map[*time.Timer]struct{}),
	}

	r.mu.Lock()
	r.subs[tenantID] = append(r.subs[tenantID], sub)
	r.mu.Unlock()

	r.log.Info("ticket subscription opened", "tenant_id", tenantID.String())
	return sub
}

func (r *Reconciler) drop(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[sub.tenantID]
	for i, s := range list {
		if s.id == sub.id {
			r.subs[sub.tenantID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[sub.tenantID]) == 0 {
		delete(r.subs, sub.tenantID)
	}
}

// Handle classifies one change event and delivers it to the tenant's
// subscribers. Classification runs sequentially on the caller's goroutine,
// so the listener's feed order is preserved per tenant.
func (r *Reconciler) Handle(ctx context.Context, event ChangeEvent) {
	tenantID := event.TenantID()
	if tenantID == uuid.Nil {
		r.log.Warn("ticket change without tenant, dropping")
		return
	}

	r.mu.RLock()
	subs := append([]*Subscription(nil), r.subs[tenantID]...)
	r.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	reopen := event.IsReopen()
	transfer := event.IsTransfer()

	for _, sub := range subs {
		sub.deliver(event)
		if reopen {
			sub.scheduleSettle(r.settle, event)
		}
	}

	if reopen {
		r.log.Info("ticket reopened", "tenant_id", tenantID.String(), "ticket_id", event.New.ID.String())
		r.publishReopen(ctx, event)
	}
	if transfer {
		r.log.Info("ticket transferred",
			"tenant_id", tenantID.String(),
			"ticket_id", event.New.ID.String(),
			"from_queue", event.Old.QueueID.String(),
			"to_queue", event.New.QueueID.String(),
		)
		r.publishTransfer(ctx, event)
	}
}

func (r *Reconciler) publishReopen(ctx context.Context, event ChangeEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, events.TicketReopened{
		BaseEvent: events.NewBaseEvent(),
		TicketID:  event.New.ID,
		TenantID:  event.New.TenantID,
		QueueID:   event.New.QueueID,
	})
}

func (r *Reconciler) publishTransfer(ctx context.Context, event ChangeEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, events.TicketTransferred{
		BaseEvent:   events.NewBaseEvent(),
		TicketID:    event.New.ID,
		TenantID:    event.New.TenantID,
		FromQueueID: event.Old.QueueID,
		ToQueueID:   event.New.QueueID,
	})
}

func (s *Subscription) deliver(event ChangeEvent) {
	s.delivering.Lock()
	defer s.delivering.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if s.cb.OnUpdate != nil {
		s.cb.OnUpdate(event)
	}
	if event.IsReopen() && s.cb.OnReopen != nil {
		s.cb.OnReopen(event)
	}
	if event.IsTransfer() && s.cb.OnTransfer != nil {
		s.cb.OnTransfer(event)
	}
}

// scheduleSettle arms a one-shot re-delivery of the event as a plain update
// after the settle delay. The timer is owned by the subscription and is
// cancelled on Close.
func (s *Subscription) scheduleSettle(delay time.Duration, event ChangeEvent) {
	if s.cb.OnUpdate == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.delivering.Lock()
		defer s.delivering.Unlock()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.pending, timer)
		s.mu.Unlock()
		s.cb.OnUpdate(event)
	})
	s.pending[timer] = struct{}{}
	s.mu.Unlock()
}
