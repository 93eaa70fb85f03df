package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// Router sends each topic to the publisher registered for its longest
// matching prefix.
type Router struct {
	routes   []route
	fallback ports.EventPublisher
}

type route struct {
	prefix    string
	publisher ports.EventPublisher
}

var _ ports.EventPublisher = (*Router)(nil)

func NewRouter(fallback ports.EventPublisher) *Router {
	return &Router{fallback: fallback}
}

// Handle registers publisher for topics equal to prefix or below it.
func (r *Router) Handle(prefix string, publisher ports.EventPublisher) *Router {
	r.routes = append(r.routes, route{prefix: prefix, publisher: publisher})
	return r
}

func (r *Router) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	var (
		best    ports.EventPublisher
		bestLen = -1
	)
	for _, rt := range r.routes {
		if topic != rt.prefix && !strings.HasPrefix(topic, rt.prefix+".") {
			continue
		}
		if len(rt.prefix) > bestLen {
			best, bestLen = rt.publisher, len(rt.prefix)
		}
	}
	if best == nil {
		best = r.fallback
	}
	if best == nil {
		return fmt.Errorf("no publisher for topic %s", topic)
	}
	return best.Publish(ctx, topic, event)
}
