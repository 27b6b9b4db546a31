package sqlite

import (
	"context"
	"database/sql"
)

// HealthRepository implements health checks for SQLite databases.
type HealthRepository struct {
	db *sql.DB
}

// NewHealthRepository creates a new SQLite health repository.
func NewHealthRepository(db *sql.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Ping runs a trivial query so a wedged connection is reported, not just a closed one.
func (r *HealthRepository) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}
