package ports

import "github.com/atvirokodosprendimai/civreg/internal/core/domain"

// ActionMetrics observes the outcome of action requests.
type ActionMetrics interface {
	ActionProcessed(actionType domain.ActionType, outcome string)
	AppendConflict()
}

// DispatchMetrics observes outbox deliveries per topic.
type DispatchMetrics interface {
	Dispatched(topic string)
	Failed(topic string)
	Dead(topic string)
}

// ConfigCacheMetrics observes event configuration lookups.
type ConfigCacheMetrics interface {
	ConfigCacheHit()
	ConfigCacheMiss()
	ConfigStale()
}
