package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// OutboxRepository reads and settles the rows EventStore.AppendActions wrote.
type OutboxRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FetchPending returns due pending rows in insertion order.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	now := r.now()
	var models []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		// a row waits while an older row of its event is backing off
		return tx.Where("status = ?", domain.OutboxStatusPending).
			Where("next_attempt_at <= ?", now).
			Where(`NOT EXISTS (SELECT 1 FROM outbox_events prev
				WHERE prev.event_id = outbox_events.event_id AND prev.id < outbox_events.id
				AND prev.status = ? AND prev.next_attempt_at > ?)`, domain.OutboxStatusPending, now).
			Order("id").
			Limit(limit).
			Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	out := make([]domain.OutboxEvent, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	at := r.now()
	return r.settle(ctx, id, "dispatched", map[string]any{
		"status":        domain.OutboxStatusDispatched,
		"dispatched_at": &at,
		"last_error":    "",
	})
}

// MarkFailed keeps the row pending and hides it until nextAttemptAt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	return r.settle(ctx, id, "failed", map[string]any{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt.UTC(),
		"last_error":      errMsg,
	})
}

// MarkDead parks a row for good. Operators inspect dead rows by hand.
func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return r.settle(ctx, id, "dead", map[string]any{
		"status":     domain.OutboxStatusDead,
		"attempts":   attempts,
		"last_error": errMsg,
	})
}

func (r *OutboxRepository) settle(ctx context.Context, id int64, outcome string, fields map[string]any) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).Where("id = ?", id).Updates(fields).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox %d %s: %w", id, outcome, err)
	}
	return nil
}

func (m outboxEventModel) toDomain() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            m.ID,
		MessageID:     m.MessageID,
		EventID:       m.EventID,
		Topic:         m.Topic,
		PayloadJSON:   []byte(m.PayloadJSON),
		Status:        m.Status,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		DispatchedAt:  m.DispatchedAt,
	}
}
