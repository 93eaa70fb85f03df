package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

const defaultStreamMaxLen = 100000

// StreamPublisher appends outbox messages to a Redis stream named after the
// topic. The search indexer consumes search.index.* streams with a consumer group.
type StreamPublisher struct {
	client rueidis.Client
	prefix string
	maxLen int64
}

func NewStreamPublisher(client rueidis.Client, prefix string, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &StreamPublisher{client: client, prefix: prefix, maxLen: maxLen}
}

func (p *StreamPublisher) StreamKey(topic string) string {
	return p.prefix + topic
}

func (p *StreamPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	cmd := p.client.B().Xadd().Key(p.StreamKey(topic)).
		Maxlen().Almost().Threshold(strconv.FormatInt(p.maxLen, 10)).
		Id("*").
		FieldValue().
		FieldValue("message_id", event.MessageID).
		FieldValue("event_id", event.EventID).
		FieldValue("event_type", event.EventType).
		FieldValue("event_version", strconv.FormatInt(event.EventVersion, 10)).
		FieldValue("payload", string(payload)).
		Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.StreamKey(topic), err)
	}
	return nil
}
