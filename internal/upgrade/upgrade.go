// Package upgrade keeps a running daemon honest about its Postgres
// schema: a version/dirty check against the migrations the binary ships
// with, and version-keyed data backfills for the transformations plain
// SQL migrations can't express.
package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaVersion is the newest migration under migrations/ this binary
// was built against. Bump it together with every new migration pair.
const SchemaVersion = 2

// Status is the outcome of comparing the database's schema_migrations
// row against SchemaVersion.
type Status struct {
	Current uint
	Dirty   bool

	// Fresh means no schema_migrations row exists yet: a brand-new
	// database that has never been migrated.
	Fresh bool
}

// Compatible reports whether the daemon may serve against this schema.
func (s Status) Compatible() bool {
	return !s.Dirty && !s.Fresh && s.Current == SchemaVersion
}

// Advice renders the operator's next step for an incompatible status, in
// terms of the castellan migrate subcommands.
func (s Status) Advice() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("schema v%d is dirty (a migration failed partway); run `castellan migrate force %d` then `castellan migrate up`", s.Current, s.Current-1)
	case s.Fresh:
		return "database has never been migrated; run `castellan migrate up`"
	case s.Current < SchemaVersion:
		return fmt.Sprintf("schema v%d is behind this binary (wants v%d); run `castellan migrate up`", s.Current, SchemaVersion)
	case s.Current > SchemaVersion:
		return fmt.Sprintf("schema v%d is ahead of this binary (wants v%d); upgrade the castellan binary", s.Current, SchemaVersion)
	default:
		return "schema is up to date"
	}
}

// Check reads the schema_migrations bookkeeping golang-migrate maintains.
// A missing table or row reads as Fresh, never as an error: a brand-new
// database is an expected state, not a failure.
func Check(ctx context.Context, db *pgxpool.Pool) (Status, error) {
	var current uint
	var dirty bool
	err := db.QueryRow(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&current, &dirty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
			return Status{Fresh: true}, nil
		}
		return Status{}, fmt.Errorf("upgrade: read schema_migrations: %w", err)
	}
	return Status{Current: current, Dirty: dirty}, nil
}

// isUndefinedTable matches Postgres error 42P01 without importing
// pgconn's error type into every caller.
func isUndefinedTable(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "42P01"
	}
	return false
}
