package events

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// LogPublisher writes every outbox message to the log. It stands in for a
// collaborator that is not configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	attrs := []any{
		"topic", topic,
		"message_id", event.MessageID,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"tracking_id", event.TrackingID,
		"event_version", event.EventVersion,
	}
	if event.Action != nil {
		attrs = append(attrs, "action_type", event.Action.Type, "action_status", event.Action.Status)
	}
	p.logger.InfoContext(ctx, "outbox publish", attrs...)
	return nil
}
