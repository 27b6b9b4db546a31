package postgres

import (
	"context"
)

// HealthRepository implements health checks for PostgreSQL.
type HealthRepository struct {
	pool *Pool
}

// NewHealthRepository creates a new PostgreSQL health repository.
func NewHealthRepository(pool *Pool) *HealthRepository {
	return &HealthRepository{pool: pool}
}

// Ping performs a basic connectivity check to the database.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
