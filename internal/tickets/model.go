// Package tickets reacts to ticket lifecycle changes streamed from the
// database and reconciles downstream state (counters, routing) per tenant.
package tickets

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	StatusOpen     TicketStatus = "open"
	StatusPending  TicketStatus = "pending"
	StatusResolved TicketStatus = "resolved"
	StatusClosed   TicketStatus = "closed"
)

// Ticket is the row image carried in a change event.
type Ticket struct {
	ID             uuid.UUID    `json:"id"`
	TenantID       uuid.UUID    `json:"tenant_id"`
	ConversationID string       `json:"conversation_id"`
	QueueID        uuid.UUID    `json:"queue_id"`
	AssigneeID     *uuid.UUID   `json:"assignee_id,omitempty"`
	Status         TicketStatus `json:"status"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ChangeType mirrors the database operation behind a change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one entry of the ticket change feed. Old is nil for
// inserts, New is nil for deletes.
type ChangeEvent struct {
	Type ChangeType `json:"type"`
	Old  *Ticket    `json:"old,omitempty"`
	New  *Ticket    `json:"new,omitempty"`
}

// TenantID returns the tenant the event belongs to, preferring the new row.
func (e ChangeEvent) TenantID() uuid.UUID {
	if e.New != nil {
		return e.New.TenantID
	}
	if e.Old != nil {
		return e.Old.TenantID
	}
	return uuid.Nil
}

// IsReopen reports whether the event moves a ticket from a terminal status
// back to open.
func (e ChangeEvent) IsReopen() bool {
	if e.Type != ChangeUpdate || e.Old == nil || e.New == nil {
		return false
	}
	wasTerminal := e.Old.Status == StatusClosed || e.Old.Status == StatusResolved
	return wasTerminal && e.New.Status == StatusOpen
}

// IsTransfer reports whether the event moves a ticket between queues. A
// first assignment (no previous queue) is not a transfer.
func (e ChangeEvent) IsTransfer() bool {
	if e.Type != ChangeUpdate || e.Old == nil || e.New == nil {
		return false
	}
	if e.Old.QueueID == uuid.Nil || e.New.QueueID == uuid.Nil {
		return false
	}
	return e.Old.QueueID != e.New.QueueID
}
