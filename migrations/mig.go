package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationFS embed.FS

// Up applies the sqlite migrations.
func Up(ctx context.Context, db *sql.DB) error {
	return UpDialect(ctx, db, goose.DialectSQLite3)
}

// UpDialect applies the migrations written for dialect. Only sqlite3 and
// postgres are shipped.
func UpDialect(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Version reports the highest applied migration.
func Version(ctx context.Context, db *sql.DB, dialect goose.Dialect) (int64, error) {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func newProvider(db *sql.DB, dialect goose.Dialect) (*goose.Provider, error) {
	var dir string
	switch dialect {
	case goose.DialectSQLite3:
		dir = "sqlite"
	case goose.DialectPostgres:
		dir = "postgres"
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration files: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}
