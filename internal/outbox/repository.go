// Package outbox persists domain events and relays them to the message
// broker, so an event survives a crash between the state change and the
// publish.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPublished      Status = "published"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// Record is one stored event awaiting (or past) broker publication.
type Record struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	EventName string
	Payload   json.RawMessage
	CreatedAt time.Time
	Status    Status
	Attempts  int
}

// InsertParams describe one event to store.
type InsertParams struct {
	TenantID  uuid.UUID
	EventName string
	Payload   any
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	if p.EventName == "" {
		return uuid.Nil, fmt.Errorf("eventName is required")
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO event_outbox (tenant_id, event_name, payload, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING id`,
		p.TenantID, p.EventName, payloadBytes,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimPending atomically takes up to limit pending events for publication.
// Safe under concurrent dispatchers via SKIP LOCKED.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM event_outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE event_outbox o
	SET attempts = attempts + 1, updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.tenant_id, o.event_name, o.payload, o.created_at, o.status, o.attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.EventName, &rec.Payload, &rec.CreatedAt, &status, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE event_outbox
		 SET status = 'published', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

// MarkPending returns a claimed event to the queue after a publish failure.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE event_outbox
		 SET status = 'pending', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE event_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}
