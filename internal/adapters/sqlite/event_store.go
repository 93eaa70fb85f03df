package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// EventStore keeps the action log, the drafts it cleans up and the outbox in
// one sqlite file, so every append is a single transaction.
type EventStore struct {
	db *gormsqlite.DB
}

var _ ports.EventStore = (*EventStore)(nil)

func NewEventStore(db *gormsqlite.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) CreateEvent(ctx context.Context, ev domain.Event, batch ports.AppendBatch) (domain.Event, error) {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		model := eventModel{
			ID:            ev.ID,
			Type:          ev.Type,
			TrackingID:    ev.TrackingID,
			TransactionID: ev.TransactionID,
			CreatedAt:     ev.CreatedAt.UTC(),
			UpdatedAt:     ev.UpdatedAt.UTC(),
			Version:       1,
		}
		if err := tx.Create(&model).Error; err != nil {
			return translateWriteError(err)
		}
		return writeBatch(tx.DB, ev.ID, 0, batch)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return s.GetEvent(ctx, ev.ID)
}

func (s *EventStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var ev domain.Event
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		ev, err = loadEvent(tx.DB, "id = ?", id)
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (s *EventStore) FindEventByTransaction(ctx context.Context, eventType, transactionID string) (domain.Event, error) {
	var ev domain.Event
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		ev, err = loadEvent(tx.DB, "type = ? AND transaction_id = ?", eventType, transactionID)
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (s *EventStore) FindEventByActionID(ctx context.Context, actionID string) (domain.Event, error) {
	var ev domain.Event
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var action actionModel
		err := tx.Select("event_id").Where("id = ?", actionID).First(&action).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Errorf(domain.CodeNotFound, "action %s not found", actionID)
		}
		if err != nil {
			return fmt.Errorf("find action: %w", err)
		}
		ev, err = loadEvent(tx.DB, "id = ?", action.EventID)
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (s *EventStore) AppendActions(ctx context.Context, eventID string, expectedVersion int64, batch ports.AppendBatch) (domain.Event, error) {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&eventModel{}).
			Where("id = ? AND version = ?", eventID, expectedVersion).
			Updates(map[string]any{"version": gorm.Expr("version + 1"), "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("bump event version: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&eventModel{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
				return fmt.Errorf("check event: %w", err)
			}
			if count == 0 {
				return domain.Errorf(domain.CodeNotFound, "event %s not found", eventID)
			}
			return domain.ErrVersionConflict
		}

		var maxSeq int
		if err := tx.Model(&actionModel{}).
			Where("event_id = ?", eventID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("query action seq: %w", err)
		}
		return writeBatch(tx.DB, eventID, maxSeq, batch)
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
	var ids []string
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&eventModel{}).
			Where("id > ?", afterID).
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	return ids, nil
}

func loadEvent(tx *gorm.DB, query string, args ...any) (domain.Event, error) {
	var model eventModel
	err := tx.Where(query, args...).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event not found")
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("load event: %w", err)
	}

	var actions []actionModel
	if err := tx.Where("event_id = ?", model.ID).Order("seq ASC").Find(&actions).Error; err != nil {
		return domain.Event{}, fmt.Errorf("load actions: %w", err)
	}
	return model.toDomain(actions)
}

// writeBatch inserts actions after seq, the outbox rows and the draft
// cleanup. It must run inside the write transaction that bumped the version.
func writeBatch(tx *gorm.DB, eventID string, seq int, batch ports.AppendBatch) error {
	for _, a := range batch.Actions {
		seq++
		a.EventID = eventID
		model, err := toActionModel(a, seq)
		if err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return translateWriteError(err)
		}
	}

	for _, msg := range batch.Outbox {
		payload, err := json.Marshal(msg.Envelope)
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		now := time.Now().UTC()
		row := outboxEventModel{
			MessageID:     msg.Envelope.MessageID,
			EventID:       eventID,
			Topic:         msg.Topic,
			PayloadJSON:   string(payload),
			Status:        domain.OutboxStatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	for _, key := range batch.DeleteDrafts {
		if err := tx.Where("event_id = ? AND created_by = ? AND action_type = ?", key.EventID, key.CreatedBy, string(key.ActionType)).
			Delete(&draftModel{}).Error; err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
	}
	if len(batch.PurgeDraftTypes) > 0 {
		types := make([]string, 0, len(batch.PurgeDraftTypes))
		for _, t := range batch.PurgeDraftTypes {
			types = append(types, string(t))
		}
		if err := tx.Where("event_id = ? AND action_type IN ?", eventID, types).Delete(&draftModel{}).Error; err != nil {
			return fmt.Errorf("purge drafts: %w", err)
		}
	}
	return nil
}

// translateWriteError maps unique violations onto the store conditions the
// services retry on.
func translateWriteError(err error) error {
	var sqliteErr *sqlitedrv.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	msg := sqliteErr.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "events.tracking_id"):
		return fmt.Errorf("%w: %v", domain.ErrTrackingIDTaken, err)
	case strings.Contains(msg, "events.type"),
		strings.Contains(msg, "actions.created_by"),
		strings.Contains(msg, "actions.original_action_id"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateTransaction, err)
	case strings.Contains(msg, "actions.seq"):
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	default:
		return err
	}
}
