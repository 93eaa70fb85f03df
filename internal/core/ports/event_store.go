package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// AppendBatch is everything one accepted request writes atomically.
type AppendBatch struct {
	Actions      []domain.Action
	Outbox       []domain.OutboxMessage
	DeleteDrafts []domain.DraftKey
	// PurgeDraftTypes drops every draft on the event whose action type is listed.
	PurgeDraftTypes []domain.ActionType
}

// EventStore is the action log. Implementations must enforce uniqueness of
// (type, transaction_id) on events, tracking ids, per-event sequence numbers
// and (event_id, created_by, type, transaction_id) on actions.
type EventStore interface {
	// CreateEvent returns domain.ErrDuplicateTransaction or domain.ErrTrackingIDTaken on conflicts.
	CreateEvent(ctx context.Context, ev domain.Event, batch AppendBatch) (domain.Event, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	FindEventByTransaction(ctx context.Context, eventType, transactionID string) (domain.Event, error)
	FindEventByActionID(ctx context.Context, actionID string) (domain.Event, error)
	// AppendActions returns domain.ErrVersionConflict when expectedVersion is stale
	// and domain.ErrDuplicateTransaction when an action key already exists.
	AppendActions(ctx context.Context, eventID string, expectedVersion int64, batch AppendBatch) (domain.Event, error)
	ListEventIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
