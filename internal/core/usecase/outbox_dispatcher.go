package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

const maxBackoff = 5 * time.Minute

type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxRetry is the number of failed deliveries after which a row is dead.
	MaxRetry int
	// Workers bounds how many events are delivered concurrently.
	Workers int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// OutboxDispatcher delivers committed outbox rows to the collaborators.
// Rows of one event go out in commit order: when one fails, the event's later
// rows wait for the next round. Different events are delivered in parallel.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	cfg       DispatcherConfig
	logger    *slog.Logger
	metrics   ports.DispatchMetrics
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type DispatcherOption func(*OutboxDispatcher)

func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatchMetrics(m ports.DispatchMetrics) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, cfg DispatcherConfig, opts ...DispatcherOption) *OutboxDispatcher {
	d := &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		metrics:   noopDispatchMetrics{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the polling loop in the background until Close.
func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.Run(ctx)
	}()
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Run polls until ctx is done. A full batch is followed immediately by the
// next one so a backlog drains without waiting for the interval.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		fetched, err := d.DispatchOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "outbox dispatch round failed", "error", err)
		}
		wait := d.cfg.Interval
		if err == nil && fetched == d.cfg.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// DispatchOnce delivers one batch of due rows and reports how many were fetched.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	rows, err := d.repo.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending outbox: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, eventRows := range groupByEvent(rows) {
		g.Go(func() error {
			return d.deliverEvent(gctx, eventRows)
		})
	}
	return len(rows), g.Wait()
}

func (d *OutboxDispatcher) deliverEvent(ctx context.Context, rows []domain.OutboxEvent) error {
	for _, row := range rows {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(row.PayloadJSON, &envelope); err != nil {
			// a payload that does not decode never will
			if err := d.markDead(ctx, row, row.Attempts+1, fmt.Sprintf("decode payload: %v", err)); err != nil {
				return err
			}
			continue
		}

		if err := d.publisher.Publish(ctx, row.Topic, envelope); err != nil {
			d.metrics.Failed(row.Topic)
			d.logger.WarnContext(ctx, "outbox publish failed",
				"outbox_id", row.ID, "topic", row.Topic, "event_id", row.EventID, "attempt", row.Attempts+1, "error", err)
			return d.markFailure(ctx, row, err.Error())
		}

		if err := d.repo.MarkDispatched(ctx, row.ID); err != nil {
			return fmt.Errorf("mark outbox %d dispatched: %w", row.ID, err)
		}
		d.metrics.Dispatched(row.Topic)
	}
	return nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, row domain.OutboxEvent, errMsg string) error {
	attempts := row.Attempts + 1
	if attempts >= d.cfg.MaxRetry {
		return d.markDead(ctx, row, attempts, errMsg)
	}
	if err := d.repo.MarkFailed(ctx, row.ID, attempts, d.now().Add(backoffDuration(attempts)), errMsg); err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", row.ID, err)
	}
	return nil
}

func (d *OutboxDispatcher) markDead(ctx context.Context, row domain.OutboxEvent, attempts int, errMsg string) error {
	if err := d.repo.MarkDead(ctx, row.ID, attempts, errMsg); err != nil {
		return fmt.Errorf("mark outbox %d dead: %w", row.ID, err)
	}
	d.metrics.Dead(row.Topic)
	d.logger.ErrorContext(ctx, "outbox message dead-lettered",
		"outbox_id", row.ID, "message_id", row.MessageID, "topic", row.Topic, "event_id", row.EventID,
		"attempts", attempts, "error", errMsg)
	return nil
}

// groupByEvent splits rows per event, keeping the fetch order inside each
// group and the order of first appearance across groups.
func groupByEvent(rows []domain.OutboxEvent) [][]domain.OutboxEvent {
	index := map[string]int{}
	var groups [][]domain.OutboxEvent
	for _, row := range rows {
		i, ok := index[row.EventID]
		if !ok {
			i = len(groups)
			index[row.EventID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}

// backoffDuration doubles from one second and caps at five minutes.
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		return maxBackoff
	}
	return min(time.Second<<(attempt-1), maxBackoff)
}

type noopDispatchMetrics struct{}

func (noopDispatchMetrics) Dispatched(string) {}
func (noopDispatchMetrics) Failed(string)     {}
func (noopDispatchMetrics) Dead(string)       {}
