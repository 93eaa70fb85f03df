package usecase

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

type ReplayOptions struct {
	BatchSize int
	Workers   int
}

// ReplayEvents pages through every stored event, folds its log and hands the
// result to applyFn. Events of one page are processed concurrently, so applyFn
// must be safe for concurrent use.
func ReplayEvents(ctx context.Context, store ports.EventStore, codec *EventCodec, opts ReplayOptions, applyFn func(domain.Event, domain.EventDocument) error) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if codec == nil {
		codec = NewEventCodec()
	}

	afterID := ""
	for {
		ids, err := store.ListEventIDs(ctx, afterID, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for _, id := range ids {
			g.Go(func() error {
				ev, err := store.GetEvent(gctx, id)
				if err != nil {
					return fmt.Errorf("load event %s: %w", id, err)
				}
				ev, err = codec.NormalizeEvent(ev)
				if err != nil {
					return fmt.Errorf("normalize event %s: %w", id, err)
				}
				doc, err := BuildDocument(ev)
				if err != nil {
					return err
				}
				if err := applyFn(ev, doc); err != nil {
					return fmt.Errorf("apply event %s: %w", id, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		afterID = ids[len(ids)-1]
	}
}

// Reindex republishes the current document of every event to the search
// feed. It returns the number of events published.
func Reindex(ctx context.Context, store ports.EventStore, codec *EventCodec, publisher ports.EventPublisher, opts ReplayOptions) (int64, error) {
	var published atomic.Int64
	err := ReplayEvents(ctx, store, codec, opts, func(ev domain.Event, doc domain.EventDocument) error {
		envelope := domain.EventEnvelope{
			MessageID:     uuid.NewString(),
			SchemaVersion: domain.CurrentActionSchemaVersion,
			EventID:       ev.ID,
			EventType:     ev.Type,
			TrackingID:    ev.TrackingID,
			EventVersion:  ev.Version,
			OccurredAt:    doc.UpdatedAt,
			Document:      &doc,
		}
		if err := publisher.Publish(ctx, domain.SearchTopic(ev.Type), envelope); err != nil {
			return err
		}
		published.Add(1)
		return nil
	})
	return published.Load(), err
}
