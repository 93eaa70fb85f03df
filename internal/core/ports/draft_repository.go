package ports

import (
	"context"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

type DraftRepository interface {
	Upsert(ctx context.Context, draft domain.Draft) (domain.Draft, error)
	Get(ctx context.Context, key domain.DraftKey) (domain.Draft, error)
	Delete(ctx context.Context, key domain.DraftKey) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Draft, error)
}
