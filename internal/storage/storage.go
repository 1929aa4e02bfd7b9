package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kgellert/gemini-relay/internal/storage/postgres"
	"github.com/kgellert/gemini-relay/internal/storage/sqlite"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Open connects to the configured driver and makes sure the schema exists.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	const op = "storage.Open"

	switch driver {
	case DriverSQLite, "sqlite", "":
		return sqlite.New(ctx, dsn)
	case DriverPostgres, "postgres":
		return postgres.New(ctx, dsn)
	}

	return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownDriver, driver)
}
