// Package pg implements the managed-mode storage backend: every entity
// lives in Postgres, accessed through pgx with explicit column lists and
// hand-written SQL — no ORM, no query builder.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenDB opens a pooled connection to dsn and verifies it with a ping.
func OpenDB(dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return pool, nil
}
