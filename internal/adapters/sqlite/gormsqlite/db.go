package gormsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB keeps two handles on one sqlite file: a pooled query_only reader and a
// single-connection writer whose transactions take the write lock up front.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

// WriteSQLDB exposes the writer for schema migrations.
func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Ping(ctx context.Context) error {
	for name, g := range map[string]*gorm.DB{"reader": db.R, "writer": db.W} {
		sqlDB, err := g.DB()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return errors.Join(closeGORM(db.R), closeGORM(db.W))
}

var _ io.Closer = (*DB)(nil)

type options struct {
	readConns   int
	busyTimeout time.Duration
	slowQuery   time.Duration
	logger      *slog.Logger
}

type Option func(*options)

// WithReadConns sizes the reader pool. It defaults to the CPU count.
func WithReadConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readConns = n
		}
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithQueryLog sends queries slower than slow to logger at warn level.
func WithQueryLog(l *slog.Logger, slow time.Duration) Option {
	return func(o *options) {
		o.logger = l
		o.slowQuery = slow
	}
}

func Open(file string, opts ...Option) (*DB, error) {
	o := options{
		readConns:   runtime.NumCPU(),
		busyTimeout: 5 * time.Second,
		slowQuery:   time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := &gorm.Config{PrepareStmt: true, Logger: gormLogger(o)}

	reader, err := openHandle(buildDSN(file, true, o.busyTimeout), o.readConns, cfg)
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	writer, err := openHandle(buildDSN(file, false, o.busyTimeout), 1, cfg)
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open writer: %w", err)
	}
	return &DB{R: reader, W: writer}, nil
}

func openHandle(dsn string, conns int, cfg *gorm.Config) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn}, cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		_ = closeGORM(g)
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	return g, nil
}

func gormLogger(o options) logger.Interface {
	if o.logger == nil {
		return logger.Discard
	}
	return logger.New(
		slog.NewLogLogger(o.logger.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             o.slowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)
}

// buildDSN carries the pragmas in the DSN because the driver applies them to
// every new pooled connection.
func buildDSN(file string, readOnly bool, busy time.Duration) string {
	queryOnly := "0"
	if readOnly {
		queryOnly = "1"
	}
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"temp_store(MEMORY)",
		"cache_size(-20000)",
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"trusted_schema(OFF)",
		"query_only(" + queryOnly + ")",
	}

	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(file)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	if !readOnly {
		b.WriteString("&_txlock=immediate")
	}
	return b.String()
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
