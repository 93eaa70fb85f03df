package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

type DraftRepository struct {
	pool *pgxpool.Pool
}

var _ ports.DraftRepository = (*DraftRepository)(nil)

func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

const selectDraft = `
	SELECT event_id::text, created_by, action_type, transaction_id, declaration, annotation, created_at, updated_at
	FROM drafts`

func (r *DraftRepository) Upsert(ctx context.Context, d domain.Draft) (domain.Draft, error) {
	if !validID(d.EventID) {
		return domain.Draft{}, domain.Errorf(domain.CodeNotFound, "event %s not found", d.EventID)
	}
	decl, err := encodeFields(d.Declaration)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	annot, err := encodeFields(d.Annotation)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO drafts (event_id, created_by, action_type, transaction_id, declaration, annotation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, created_by, action_type) DO UPDATE SET
			transaction_id = EXCLUDED.transaction_id,
			declaration = EXCLUDED.declaration,
			annotation = EXCLUDED.annotation,
			updated_at = EXCLUDED.updated_at
		RETURNING event_id::text, created_by, action_type, transaction_id, declaration, annotation, created_at, updated_at`,
		d.EventID, d.CreatedBy, string(d.ActionType), d.TransactionID, decl, annot, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	saved, err := scanDraft(row)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("upsert draft: %w", err)
	}
	return saved, nil
}

func (r *DraftRepository) Get(ctx context.Context, key domain.DraftKey) (domain.Draft, error) {
	if !validID(key.EventID) {
		return domain.Draft{}, domain.Errorf(domain.CodeNotFound, "draft for %s not found", key.ActionType)
	}
	row := r.pool.QueryRow(ctx, selectDraft+` WHERE event_id = $1 AND created_by = $2 AND action_type = $3`,
		key.EventID, key.CreatedBy, string(key.ActionType))
	d, err := scanDraft(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Draft{}, domain.Errorf(domain.CodeNotFound, "draft for %s not found", key.ActionType)
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}

func (r *DraftRepository) Delete(ctx context.Context, key domain.DraftKey) (bool, error) {
	if !validID(key.EventID) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM drafts WHERE event_id = $1 AND created_by = $2 AND action_type = $3`,
		key.EventID, key.CreatedBy, string(key.ActionType))
	if err != nil {
		return false, fmt.Errorf("delete draft: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DraftRepository) ListByUser(ctx context.Context, userID string) ([]domain.Draft, error) {
	rows, err := r.pool.Query(ctx, selectDraft+` WHERE created_by = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	var result []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("list drafts: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return result, nil
}

func scanDraft(row pgx.Row) (domain.Draft, error) {
	var (
		d           domain.Draft
		actionType  string
		decl, annot []byte
	)
	if err := row.Scan(&d.EventID, &d.CreatedBy, &actionType, &d.TransactionID, &decl, &annot, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Draft{}, err
	}
	d.ActionType = domain.ActionType(actionType)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	var err error
	if d.Declaration, err = decodeFields(decl); err != nil {
		return domain.Draft{}, err
	}
	if d.Annotation, err = decodeFields(annot); err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}
