package outbox

import (
	"context"

	"github.com/google/uuid"

	"chathub_backend/internal/events"
	"chathub_backend/platform/logger"
)

// Recorder subscribes to the in-process bus and stores each event in the
// outbox, where the dispatcher picks it up for broker publication.
type Recorder struct {
	repo *Repository
	log  *logger.Logger
}

func NewRecorder(repo *Repository, log *logger.Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Attach registers the recorder for the given event names.
func (r *Recorder) Attach(bus events.Bus, eventNames ...string) {
	for _, name := range eventNames {
		bus.Subscribe(name, events.HandlerFunc(r.record))
	}
}

func (r *Recorder) record(ctx context.Context, event events.Event) error {
	tenantID := uuid.Nil
	if tc, ok := event.(events.TenantCarrier); ok {
		tenantID = tc.EventTenant()
	}

	id, err := r.repo.Insert(ctx, InsertParams{
		TenantID:  tenantID,
		EventName: event.EventName(),
		Payload:   event,
	})
	if err != nil {
		r.log.DatabaseError("outbox.insert", err)
		return err
	}

	r.log.Debug("event recorded to outbox", "event", event.EventName(), "outbox_id", id.String())
	return nil
}
