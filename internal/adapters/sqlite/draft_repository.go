package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

type DraftRepository struct {
	db *gormsqlite.DB
}

var _ ports.DraftRepository = (*DraftRepository)(nil)

func NewDraftRepository(db *gormsqlite.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// Upsert replaces the payload of an existing draft and keeps its created_at.
func (r *DraftRepository) Upsert(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	model, err := toDraftModel(draft)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}, {Name: "created_by"}, {Name: "action_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"transaction_id", "declaration_json", "annotation_json", "updated_at",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("upsert draft: %w", err)
	}
	return r.Get(ctx, draft.Key())
}

func (r *DraftRepository) Get(ctx context.Context, key domain.DraftKey) (domain.Draft, error) {
	var model draftModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("event_id = ? AND created_by = ? AND action_type = ?", key.EventID, key.CreatedBy, string(key.ActionType)).
			First(&model).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Draft{}, domain.Errorf(domain.CodeNotFound, "draft for %s not found", key.ActionType)
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	return model.toDomain()
}

func (r *DraftRepository) Delete(ctx context.Context, key domain.DraftKey) (bool, error) {
	var deleted int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("event_id = ? AND created_by = ? AND action_type = ?", key.EventID, key.CreatedBy, string(key.ActionType)).
			Delete(&draftModel{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete draft: %w", err)
	}
	return deleted > 0, nil
}

func (r *DraftRepository) ListByUser(ctx context.Context, userID string) ([]domain.Draft, error) {
	var rows []draftModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("created_by = ?", userID).Order("created_at ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	result := make([]domain.Draft, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		result = append(result, d)
	}
	return result, nil
}
