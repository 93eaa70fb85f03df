package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

type OutboxRepository struct {
	pool *pgxpool.Pool
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id::text, event_id::text, topic, payload, status, attempts,
		       next_attempt_at, last_error, created_at, dispatched_at
		FROM outbox_events o
		WHERE status = $1 AND next_attempt_at <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM outbox_events prev
		      WHERE prev.event_id = o.event_id AND prev.id < o.id
		        AND prev.status = $1 AND prev.next_attempt_at > $2)
		ORDER BY id ASC
		LIMIT $3`, domain.OutboxStatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var result []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EventID, &e.Topic, &e.PayloadJSON, &e.Status, &e.Attempts,
			&e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	return result, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET status = $2, dispatched_at = $3, last_error = '' WHERE id = $1`,
		id, domain.OutboxStatusDispatched, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, nextAttemptAt.UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET status = $2, attempts = $3, last_error = $4 WHERE id = $1`,
		id, domain.OutboxStatusDead, attempts, errMsg)
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}
