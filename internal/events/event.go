// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"chathub_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus is re-exported so internal modules can construct the bus
// without importing platform/events directly.
var NewInMemoryBus = events.NewInMemoryBus

// =============================================================================
// Delivery Domain Events
// =============================================================================

// MediaDeliverySucceeded is published when an outbound media send completes,
// possibly after retries.
type MediaDeliverySucceeded struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	InstanceID     string `json:"instanceId"`
	CorrelationID  string `json:"correlationId"`
	MediaKind      string `json:"mediaKind"`
	Attempts       int    `json:"attempts"`
}

func (e MediaDeliverySucceeded) EventName() string { return "media.delivery.succeeded" }

// MediaDeliveryExhausted is published when all retry attempts for an outbound
// media send have failed.
type MediaDeliveryExhausted struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	InstanceID     string `json:"instanceId"`
	CorrelationID  string `json:"correlationId"`
	MediaKind      string `json:"mediaKind"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError"`
}

func (e MediaDeliveryExhausted) EventName() string { return "media.delivery.exhausted" }

// =============================================================================
// Batch Domain Events
// =============================================================================

// BatchOrphansDetected is published when the emergency monitor finds batches
// stuck in a non-terminal status past the staleness threshold.
type BatchOrphansDetected struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	Count    int64     `json:"count"`
}

func (e BatchOrphansDetected) EventName() string { return "batches.orphans.detected" }

// BatchReprocessRequested is published when a batch is pushed back through
// the processing path, either by the periodic sweep or a manual trigger.
type BatchReprocessRequested struct {
	BaseEvent
	ConversationID string    `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Manual         bool      `json:"manual"`
}

func (e BatchReprocessRequested) EventName() string { return "batches.reprocess.requested" }

// =============================================================================
// Ticket Domain Events
// =============================================================================

// TicketReopened is published when a ticket transitions from closed/resolved
// back to open.
type TicketReopened struct {
	BaseEvent
	TicketID uuid.UUID `json:"ticketId"`
	TenantID uuid.UUID `json:"tenantId"`
	QueueID  uuid.UUID `json:"queueId"`
}

func (e TicketReopened) EventName() string { return "tickets.ticket.reopened" }

// TicketTransferred is published when a ticket moves between two queues.
type TicketTransferred struct {
	BaseEvent
	TicketID    uuid.UUID `json:"ticketId"`
	TenantID    uuid.UUID `json:"tenantId"`
	FromQueueID uuid.UUID `json:"fromQueueId"`
	ToQueueID   uuid.UUID `json:"toQueueId"`
}

func (e TicketTransferred) EventName() string { return "tickets.ticket.transferred" }

// TenantCarrier is implemented by events scoped to one tenant. The outbox
// recorder uses it to tag stored events.
type TenantCarrier interface {
	EventTenant() uuid.UUID
}

func (e BatchOrphansDetected) EventTenant() uuid.UUID    { return e.TenantID }
func (e BatchReprocessRequested) EventTenant() uuid.UUID { return e.TenantID }
func (e TicketReopened) EventTenant() uuid.UUID          { return e.TenantID }
func (e TicketTransferred) EventTenant() uuid.UUID       { return e.TenantID }
