// Package database owns the schema migrations and the sqlx-backed crawl log
// repository. The pgx stores in internal/storage/postgres share the schema
// created here.
package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Postgres driver
	"go.uber.org/zap"
)

// Open connects to Postgres through lib/pq and pings the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Error("closing postgres after failed ping", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}
