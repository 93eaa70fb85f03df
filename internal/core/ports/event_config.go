package ports

import (
	"context"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// EventConfigProvider resolves the configuration of one event type. The
// actor's token is forwarded to the collaborator that owns the configuration.
type EventConfigProvider interface {
	EventConfig(ctx context.Context, actor domain.Actor, eventType string) (domain.EventConfig, error)
}

// EventConfigSource fetches every event configuration from its origin.
type EventConfigSource interface {
	Fetch(ctx context.Context, token string) ([]domain.EventConfig, error)
}
