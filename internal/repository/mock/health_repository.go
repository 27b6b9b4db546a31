package mock

import (
	"context"

	"github.com/nimeninja/ingestd/internal/repository"
)

// HealthRepository is a mock implementation of repository.HealthRepository.
type HealthRepository struct {
	// PingError is returned by Ping when set.
	PingError error
}

// NewHealthRepository creates a healthy mock HealthRepository.
func NewHealthRepository() *HealthRepository {
	return &HealthRepository{}
}

var _ repository.HealthRepository = (*HealthRepository)(nil)

// Ping returns PingError.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.PingError
}
