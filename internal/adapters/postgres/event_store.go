package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// EventStore is the postgres action log. Event, actions, outbox rows and
// draft cleanup share one transaction.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ ports.EventStore = (*EventStore)(nil)

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const selectEvent = `
	SELECT id::text, type, tracking_id, transaction_id, created_at, updated_at, version
	FROM events`

const selectActions = `
	SELECT id::text, event_id::text, transaction_id, type, custom_action_type, status,
	       original_action_id::text, created_at, created_by, created_by_role, created_by_user_type,
	       created_at_location, assigned_to, declaration, annotation, reason, schema_version
	FROM actions
	WHERE event_id = $1
	ORDER BY seq ASC`

func (s *EventStore) CreateEvent(ctx context.Context, ev domain.Event, batch ports.AppendBatch) (domain.Event, error) {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (id, type, tracking_id, transaction_id, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)`,
			ev.ID, ev.Type, ev.TrackingID, ev.TransactionID, ev.CreatedAt.UTC(), ev.UpdatedAt.UTC())
		if err != nil {
			return translateWriteError(err)
		}
		return writeBatch(ctx, tx, ev.ID, 0, batch)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return s.GetEvent(ctx, ev.ID)
}

func (s *EventStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	if !validID(id) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event %s not found", id)
	}
	return s.loadEvent(ctx, selectEvent+` WHERE id = $1`, id)
}

func (s *EventStore) FindEventByTransaction(ctx context.Context, eventType, transactionID string) (domain.Event, error) {
	return s.loadEvent(ctx, selectEvent+` WHERE type = $1 AND transaction_id = $2`, eventType, transactionID)
}

func (s *EventStore) FindEventByActionID(ctx context.Context, actionID string) (domain.Event, error) {
	if !validID(actionID) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "action %s not found", actionID)
	}
	var eventID string
	err := s.pool.QueryRow(ctx, `SELECT event_id::text FROM actions WHERE id = $1`, actionID).Scan(&eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "action %s not found", actionID)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("find action: %w", err)
	}
	return s.GetEvent(ctx, eventID)
}

func (s *EventStore) AppendActions(ctx context.Context, eventID string, expectedVersion int64, batch ports.AppendBatch) (domain.Event, error) {
	if !validID(eventID) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event %s not found", eventID)
	}
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE events SET version = version + 1, updated_at = $3
			WHERE id = $1 AND version = $2`,
			eventID, expectedVersion, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("bump event version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
				return fmt.Errorf("check event: %w", err)
			}
			if !exists {
				return domain.Errorf(domain.CodeNotFound, "event %s not found", eventID)
			}
			return domain.ErrVersionConflict
		}

		var seq int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM actions WHERE event_id = $1`, eventID).Scan(&seq); err != nil {
			return fmt.Errorf("query action seq: %w", err)
		}
		return writeBatch(ctx, tx, eventID, seq, batch)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return s.GetEvent(ctx, eventID)
}

func (s *EventStore) ListEventIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text FROM events WHERE id::text > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	return ids, nil
}

func (s *EventStore) loadEvent(ctx context.Context, query string, args ...any) (domain.Event, error) {
	var ev domain.Event
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&ev.ID, &ev.Type, &ev.TrackingID, &ev.TransactionID, &ev.CreatedAt, &ev.UpdatedAt, &ev.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event not found")
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("load event: %w", err)
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()

	rows, err := s.pool.Query(ctx, selectActions, ev.ID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Actions = append(ev.Actions, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Event{}, fmt.Errorf("load actions: %w", err)
	}
	return ev, nil
}

func scanAction(row pgx.Row) (domain.Action, error) {
	var (
		a                   domain.Action
		original            *string
		actionType, status  string
		userType            string
		decl, annot, reason []byte
	)
	err := row.Scan(&a.ID, &a.EventID, &a.TransactionID, &actionType, &a.CustomActionType, &status,
		&original, &a.CreatedAt, &a.CreatedBy, &a.CreatedByRole, &userType,
		&a.CreatedAtLocation, &a.AssignedTo, &decl, &annot, &reason, &a.SchemaVersion)
	if err != nil {
		return domain.Action{}, fmt.Errorf("scan action: %w", err)
	}
	a.Type = domain.ActionType(actionType)
	a.Status = domain.ActionStatus(status)
	a.CreatedByUserType = domain.UserType(userType)
	a.CreatedAt = a.CreatedAt.UTC()
	if original != nil {
		a.OriginalActionID = *original
	}
	if a.Declaration, err = decodeFields(decl); err != nil {
		return domain.Action{}, fmt.Errorf("action %s declaration: %w", a.ID, err)
	}
	if a.Annotation, err = decodeFields(annot); err != nil {
		return domain.Action{}, fmt.Errorf("action %s annotation: %w", a.ID, err)
	}
	if len(reason) > 0 {
		a.Reason = &domain.Reason{}
		if err := json.Unmarshal(reason, a.Reason); err != nil {
			return domain.Action{}, fmt.Errorf("action %s reason: %w", a.ID, err)
		}
	}
	return a, nil
}

func writeBatch(ctx context.Context, tx pgx.Tx, eventID string, seq int, batch ports.AppendBatch) error {
	for _, a := range batch.Actions {
		seq++
		decl, err := encodeFields(a.Declaration)
		if err != nil {
			return fmt.Errorf("action %s declaration: %w", a.ID, err)
		}
		annot, err := encodeFields(a.Annotation)
		if err != nil {
			return fmt.Errorf("action %s annotation: %w", a.ID, err)
		}
		var reason []byte
		if a.Reason != nil {
			if reason, err = json.Marshal(a.Reason); err != nil {
				return fmt.Errorf("action %s reason: %w", a.ID, err)
			}
		}
		var original *string
		if a.OriginalActionID != "" {
			original = &a.OriginalActionID
		}
		version := a.SchemaVersion
		if version == 0 {
			version = domain.CurrentActionSchemaVersion
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO actions (id, event_id, seq, transaction_id, type, custom_action_type, status,
				original_action_id, created_at, created_by, created_by_role, created_by_user_type,
				created_at_location, assigned_to, declaration, annotation, reason, schema_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			a.ID, eventID, seq, a.TransactionID, string(a.Type), a.CustomActionType, string(a.Status),
			original, a.CreatedAt.UTC(), a.CreatedBy, a.CreatedByRole, string(a.CreatedByUserType),
			a.CreatedAtLocation, a.AssignedTo, decl, annot, reason, version)
		if err != nil {
			return translateWriteError(err)
		}
	}

	now := time.Now().UTC()
	for _, msg := range batch.Outbox {
		payload, err := json.Marshal(msg.Envelope)
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO outbox_events (message_id, event_id, topic, payload, status, next_attempt_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			msg.Envelope.MessageID, eventID, msg.Topic, payload, domain.OutboxStatusPending, now)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	for _, key := range batch.DeleteDrafts {
		_, err := tx.Exec(ctx, `
			DELETE FROM drafts WHERE event_id = $1 AND created_by = $2 AND action_type = $3`,
			key.EventID, key.CreatedBy, string(key.ActionType))
		if err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
	}
	if len(batch.PurgeDraftTypes) > 0 {
		types := make([]string, 0, len(batch.PurgeDraftTypes))
		for _, t := range batch.PurgeDraftTypes {
			types = append(types, string(t))
		}
		_, err := tx.Exec(ctx, `DELETE FROM drafts WHERE event_id = $1 AND action_type = ANY($2)`, eventID, types)
		if err != nil {
			return fmt.Errorf("purge drafts: %w", err)
		}
	}
	return nil
}

func translateWriteError(err error) error {
	constraint, ok := constraintOf(err)
	if !ok {
		return err
	}
	switch constraint {
	case "ux_events_tracking_id":
		return fmt.Errorf("%w: %v", domain.ErrTrackingIDTaken, err)
	case "ux_events_type_transaction", "ux_actions_key", "ux_actions_original":
		return fmt.Errorf("%w: %v", domain.ErrDuplicateTransaction, err)
	case "ux_actions_event_seq":
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	default:
		return err
	}
}

// validID filters ids postgres would reject as uuid input.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func encodeFields(f domain.Fields) ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

func decodeFields(raw []byte) (domain.Fields, error) {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil, nil
	}
	var f domain.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}
