package ports

import (
	"context"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// TokenVerifier turns a bearer token into the actor its claims describe.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Actor, error)
}
