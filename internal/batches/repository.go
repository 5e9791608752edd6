// Package batches tracks inbound-media work per conversation and recovers
// batches that stall in a non-terminal status.
package batches

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle state of one batch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusOrphaned   Status = "orphaned"

	errRepoNotConfigured = "batches repository not configured"
)

// Record is one conversation's unit of inbound-media work.
type Record struct {
	ConversationID string
	TenantID       uuid.UUID
	Status         Status
	CreatedAt      time.Time
	LastTouchedAt  time.Time
}

// Stats are the snapshot counts of non-terminal batches for one tenant.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Orphaned   int64 `json:"orphaned"`
}

// Repository persists batch records. Every status write is conditional
// ("set to X if currently eligible") so overlapping sweeps stay safe.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a batches repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue registers (or re-arms) the batch for a conversation as pending.
func (r *Repository) Enqueue(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO media_batches (conversation_id, tenant_id, status, created_at, last_touched_at)
		 VALUES ($1, $2, 'pending', now(), now())
		 ON CONFLICT (conversation_id, tenant_id)
		 DO UPDATE SET status = 'pending', last_touched_at = now()
		 WHERE media_batches.status <> 'done'`,
		conversationID, tenantID,
	)
	return err
}

// Stats returns the non-terminal status distribution for a tenant.
func (r *Repository) Stats(ctx context.Context, tenantID uuid.UUID) (Stats, error) {
	if r == nil || r.pool == nil {
		return Stats{}, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT status, count(*)
		 FROM media_batches
		 WHERE tenant_id = $1 AND status <> 'done'
		 GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusOrphaned:
			stats.Orphaned = count
		}
	}
	return stats, rows.Err()
}

// MarkOrphaned flags every batch stuck in a non-terminal status past the
// staleness threshold and returns how many were flagged.
func (r *Repository) MarkOrphaned(ctx context.Context, tenantID uuid.UUID, threshold time.Duration) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepoNotConfigured)
	}

	cutoff := time.Now().UTC().Add(-threshold)
	tag, err := r.pool.Exec(ctx,
		`UPDATE media_batches
		 SET status = 'orphaned'
		 WHERE tenant_id = $1
		   AND status IN ('pending', 'processing')
		   AND last_touched_at < $2`,
		tenantID, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetOrphanedToPending sweeps all orphaned batches of a tenant back to
// pending in one pass.
func (r *Repository) ResetOrphanedToPending(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE media_batches
		 SET status = 'pending', last_touched_at = now()
		 WHERE tenant_id = $1 AND status = 'orphaned'`,
		tenantID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetChatToPending re-arms one conversation's batch regardless of its
// current status. Used for manual recovery.
func (r *Repository) ResetChatToPending(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE media_batches
		 SET status = 'pending', last_touched_at = now()
		 WHERE conversation_id = $1 AND tenant_id = $2`,
		conversationID, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ClaimPending atomically moves up to limit pending batches to processing
// and returns them. Safe under concurrent callers via SKIP LOCKED.
func (r *Repository) ClaimPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]Record, error) {
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
		SELECT conversation_id
		FROM media_batches
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY last_touched_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE media_batches b
	SET status = 'processing', last_touched_at = now()
	FROM cte
	WHERE b.conversation_id = cte.conversation_id AND b.tenant_id = $1
	RETURNING b.conversation_id, b.tenant_id, b.status, b.created_at, b.last_touched_at`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ConversationID, &rec.TenantID, &status, &rec.CreatedAt, &rec.LastTouchedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkDone completes a batch. A no-op when the batch is already done.
func (r *Repository) MarkDone(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE media_batches
		 SET status = 'done', last_touched_at = now()
		 WHERE conversation_id = $1 AND tenant_id = $2 AND status <> 'done'`,
		conversationID, tenantID,
	)
	return err
}

// Touch refreshes last_touched_at for a batch still being worked on so the
// monitor does not mistake slow progress for an orphan.
func (r *Repository) Touch(ctx context.Context, conversationID string, tenantID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE media_batches
		 SET last_touched_at = now()
		 WHERE conversation_id = $1 AND tenant_id = $2 AND status = 'processing'`,
		conversationID, tenantID,
	)
	return err
}
