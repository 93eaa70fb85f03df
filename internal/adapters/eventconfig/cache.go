package eventconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

const (
	defaultTTL          = time.Minute
	defaultFetchTimeout = 10 * time.Second
)

var errUnavailable = errors.New("event configuration unavailable")

// SharedCache is a second cache level shared between instances.
type SharedCache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, payload []byte, ttl time.Duration) error
}

// Cache serves event configurations from memory and refreshes them from the
// source once they are older than the ttl. Concurrent refreshes collapse into
// one fetch. When a refresh fails the previous snapshot keeps being served.
type Cache struct {
	source  ports.EventConfigSource
	shared  SharedCache
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics ports.ConfigCacheMetrics

	group singleflight.Group

	mu        sync.RWMutex
	byType    map[string]domain.EventConfig
	fetchedAt time.Time
}

var _ ports.EventConfigProvider = (*Cache)(nil)

type CacheOption func(*Cache)

func WithSharedCache(shared SharedCache) CacheOption {
	return func(c *Cache) { c.shared = shared }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds one shared refresh. The refresh outlives the
// request that started it so other waiters are not failed by its cancellation.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m ports.ConfigCacheMetrics) CacheOption {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(source ports.EventConfigSource, opts ...CacheOption) *Cache {
	c := &Cache{
		source:  source,
		ttl:     defaultTTL,
		timeout: defaultFetchTimeout,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) EventConfig(ctx context.Context, actor domain.Actor, eventType string) (domain.EventConfig, error) {
	byType, fresh := c.snapshot()
	if fresh {
		c.metrics.ConfigCacheHit()
		return lookup(byType, eventType)
	}
	c.metrics.ConfigCacheMiss()

	ch := c.group.DoChan("configs", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(fetchCtx, actor.Token)
	})
	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return domain.EventConfig{}, ctx.Err()
	}
	if err != nil {
		if byType != nil {
			c.metrics.ConfigStale()
			c.logger.WarnContext(ctx, "serving stale event configuration", "event_type", eventType, "error", err)
			return lookup(byType, eventType)
		}
		return domain.EventConfig{}, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	return lookup(v.(map[string]domain.EventConfig), eventType)
}

// Invalidate forces the next lookup to refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) snapshot() (map[string]domain.EventConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.byType == nil {
		return nil, false
	}
	return c.byType, c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *Cache) refresh(ctx context.Context, token string) (map[string]domain.EventConfig, error) {
	if c.shared != nil {
		raw, ok, err := c.shared.Get(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "shared config cache read failed", "error", err)
		}
		if ok {
			var configs []domain.EventConfig
			if err := json.Unmarshal(raw, &configs); err == nil {
				return c.store(configs), nil
			}
			c.logger.WarnContext(ctx, "shared config cache holds invalid payload")
		}
	}

	configs, err := c.source.Fetch(ctx, token)
	if err != nil {
		return nil, err
	}
	byType := c.store(configs)

	if c.shared != nil {
		payload, err := json.Marshal(configs)
		if err == nil {
			err = c.shared.Set(ctx, payload, c.ttl)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "shared config cache write failed", "error", err)
		}
	}
	return byType, nil
}

func (c *Cache) store(configs []domain.EventConfig) map[string]domain.EventConfig {
	byType := make(map[string]domain.EventConfig, len(configs))
	for _, cfg := range configs {
		byType[cfg.ID] = cfg
	}
	c.mu.Lock()
	c.byType = byType
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return byType
}

func lookup(byType map[string]domain.EventConfig, eventType string) (domain.EventConfig, error) {
	cfg, ok := byType[eventType]
	if !ok {
		return domain.EventConfig{}, domain.Errorf(domain.CodeNotFound, "event type %q is not configured", eventType)
	}
	return cfg, nil
}

type noopMetrics struct{}

func (noopMetrics) ConfigCacheHit()  {}
func (noopMetrics) ConfigCacheMiss() {}
func (noopMetrics) ConfigStale()     {}
