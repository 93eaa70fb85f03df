package usecase

import (
	"fmt"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// Upcaster rewrites an action persisted under FromVersion into ToVersion.
type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(action domain.Action) (domain.Action, error)
}

type EventCodec struct {
	upcasters map[int]Upcaster
}

func NewEventCodec(upcasters ...Upcaster) *EventCodec {
	m := make(map[int]Upcaster, len(upcasters))
	for _, up := range upcasters {
		m[up.FromVersion()] = up
	}
	return &EventCodec{upcasters: m}
}

// Normalize brings a stored action up to domain.CurrentActionSchemaVersion.
func (c *EventCodec) Normalize(action domain.Action) (domain.Action, error) {
	v := action.SchemaVersion
	for v < domain.CurrentActionSchemaVersion {
		up, ok := c.upcasters[v]
		if !ok {
			return domain.Action{}, fmt.Errorf("action %s: missing upcaster from version %d", action.ID, v)
		}
		next, err := up.Upcast(action)
		if err != nil {
			return domain.Action{}, fmt.Errorf("action %s: upcast %d->%d: %w", action.ID, up.FromVersion(), up.ToVersion(), err)
		}
		action = next
		v = up.ToVersion()
	}
	action.SchemaVersion = v
	return action, nil
}

// NormalizeEvent normalizes every action of ev.
func (c *EventCodec) NormalizeEvent(ev domain.Event) (domain.Event, error) {
	actions := make([]domain.Action, len(ev.Actions))
	for i, a := range ev.Actions {
		n, err := c.Normalize(a)
		if err != nil {
			return domain.Event{}, err
		}
		actions[i] = n
	}
	ev.Actions = actions
	return ev, nil
}
