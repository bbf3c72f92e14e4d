package database

import (
	"context"
	stdsql "database/sql"
)

// Health pings the database and returns a status string for health endpoints.
func Health(ctx context.Context, db *stdsql.DB) (string, error) {
	if err := db.PingContext(ctx); err != nil {
		return "unreachable", err
	}
	return "connected", nil
}
