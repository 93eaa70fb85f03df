package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/eventconfig"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/events"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/jwtauth"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/metrics"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/postgres"
	sqliteadapter "github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/civreg/internal/config"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
	"github.com/atvirokodosprendimai/civreg/internal/core/usecase"
	"github.com/atvirokodosprendimai/civreg/migrations"
)

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Storage bundles the repositories of one database backend.
type Storage struct {
	Events ports.EventStore
	Drafts ports.DraftRepository
	Outbox ports.OutboxRepository
	Ping   func(context.Context) error

	sqlDB   func() (*sql.DB, func(), error)
	dialect goose.Dialect
	closer  io.Closer
}

// Migrate applies pending migrations and reports the resulting schema version.
func (s *Storage) Migrate(ctx context.Context) (int64, error) {
	db, release, err := s.sqlDB()
	if err != nil {
		return 0, err
	}
	defer release()
	if err := migrations.UpDialect(ctx, db, s.dialect); err != nil {
		return 0, err
	}
	return migrations.Version(ctx, db, s.dialect)
}

func (s *Storage) Close() error { return s.closer.Close() }

func OpenStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Events: postgres.NewEventStore(pool),
			Drafts: postgres.NewDraftRepository(pool),
			Outbox: postgres.NewOutboxRepository(pool),
			Ping:   pool.Ping,
			sqlDB: func() (*sql.DB, func(), error) {
				db := postgres.SQLDB(pool)
				return db, func() { _ = db.Close() }, nil
			},
			dialect: goose.DialectPostgres,
			closer:  closerFunc(func() error { pool.Close(); return nil }),
		}, nil
	default:
		db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.WithQueryLog(logger, time.Second))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Storage{
			Events: sqliteadapter.NewEventStore(db),
			Drafts: sqliteadapter.NewDraftRepository(db),
			Outbox: sqliteadapter.NewOutboxRepository(db),
			Ping:   db.Ping,
			sqlDB: func() (*sql.DB, func(), error) {
				w, err := db.WriteSQLDB()
				if err != nil {
					return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
				}
				return w, func() {}, nil
			},
			dialect: goose.DialectSQLite3,
			closer:  db,
		}, nil
	}
}

// NewPublisher routes search feed topics to redis streams and notification
// and confirmation topics to the webhook. Topics without a target are logged.
func NewPublisher(cfg config.Config, logger *slog.Logger) (ports.EventPublisher, io.Closer, error) {
	router := events.NewRouter(events.NewLogPublisher(logger))
	var closers []io.Closer

	if len(cfg.RedisAddrs) > 0 {
		client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: cfg.RedisAddrs})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis streams: %w", err)
		}
		closers = append(closers, closerFunc(func() error { client.Close(); return nil }))
		router.Handle(domain.TopicSearchIndex, events.NewStreamPublisher(client, cfg.StreamPrefix, cfg.StreamMaxLen))
	}
	if cfg.WebhookURL != "" {
		webhook := events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 10*time.Second)
		router.Handle(domain.TopicNotification, webhook)
		router.Handle(domain.TopicConfirmation, webhook)
	}
	return router, resourceCloser{closers: closers}, nil
}

func newConfigProvider(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*eventconfig.Cache, io.Closer) {
	var source ports.EventConfigSource
	if cfg.ConfigURL != "" {
		source = eventconfig.NewHTTPSource(cfg.ConfigURL, cfg.ConfigTimeout)
	} else {
		source = eventconfig.NewFileSource(cfg.ConfigFile)
	}

	opts := []eventconfig.CacheOption{
		eventconfig.WithTTL(cfg.ConfigCacheTTL),
		eventconfig.WithFetchTimeout(cfg.ConfigTimeout),
		eventconfig.WithLogger(logger),
		eventconfig.WithMetrics(m),
	}
	var closer io.Closer
	if len(cfg.RedisAddrs) > 0 {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: cfg.RedisAddrs})
		opts = append(opts, eventconfig.WithSharedCache(eventconfig.NewRedisCache(client, "")))
		closer = client
	}
	return eventconfig.NewCache(source, opts...), closer
}

func NewServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*http.Server, io.Closer, error) {
	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	version, err := storage.Migrate(migrateCtx)
	if err != nil {
		_ = storage.Close()
		return nil, nil, err
	}
	logger.Info("schema ready", "db_driver", cfg.DBDriver, "version", version)

	m := metrics.New()
	configs, configCloser := newConfigProvider(cfg, logger, m)

	publisher, publisherCloser, err := NewPublisher(cfg, logger)
	if err != nil {
		_ = resourceCloser{closers: []io.Closer{configCloser, storage}}.Close()
		return nil, nil, err
	}

	machine := usecase.NewStateMachine(configs, usecase.NewSchemaService())
	eventService := usecase.NewEventService(storage.Events, machine,
		usecase.WithActionMetrics(m),
		usecase.WithLogger(logger),
		usecase.WithAppendAttempts(cfg.AppendAttempts),
	)
	draftService := usecase.NewDraftService(storage.Drafts, storage.Events, eventService)
	customActions := usecase.NewCustomActionGateway(eventService)
	authService := usecase.NewAuthService(jwtauth.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience))

	dispatcher := usecase.NewOutboxDispatcher(storage.Outbox, publisher, usecase.DispatcherConfig{
		Interval:  cfg.DispatchInterval,
		BatchSize: cfg.DispatchBatchSize,
		MaxRetry:  cfg.DispatchMaxRetry,
		Workers:   cfg.DispatchWorkers,
	}, usecase.WithDispatchLogger(logger), usecase.WithDispatchMetrics(m))
	dispatcher.Start(context.Background())

	handler := httpapi.NewHandler(eventService, draftService, customActions, authService,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(m.Handler(), m),
		httpapi.WithReadiness(storage.Ping),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// dispatcher first so it stops before the publishers and the database go away
	return server, resourceCloser{closers: []io.Closer{dispatcher, publisherCloser, configCloser, storage}}, nil
}

// Reindex republishes every event document to the search feed.
func Reindex(ctx context.Context, cfg config.Config, logger *slog.Logger, opts usecase.ReplayOptions) (int64, error) {
	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer storage.Close()

	publisher, closer, err := NewPublisher(cfg, logger)
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	return usecase.Reindex(ctx, storage.Events, usecase.NewEventCodec(), publisher, opts)
}
