package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nimeninja/ingestd/internal/config"
	"github.com/nimeninja/ingestd/internal/repository"
)

// NewRepositories creates a connection pool and all PostgreSQL repository implementations.
// The returned Repositories.Cleanup closes the pool.
func NewRepositories(ctx context.Context, pgCfg *config.PostgreSQLConfig) (*repository.Repositories, error) {
	if pgCfg == nil {
		return nil, fmt.Errorf("PostgreSQL configuration is nil")
	}

	pool, err := NewPool(ctx, buildConnectionString(pgCfg), int32(pgCfg.MaxConnections))
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if pgCfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
		}
	}

	repos, err := NewRepositoriesWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repos.Cleanup = pool.Close
	return repos, nil
}

// NewRepositoriesWithPool creates repositories on an existing pool.
// The caller keeps ownership of the pool; Cleanup is nil.
func NewRepositoriesWithPool(pool *Pool) (*repository.Repositories, error) {
	if pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Files:        NewFileRepository(pool),
		Health:       NewHealthRepository(pool),
		DatabaseType: repository.DatabaseTypePostgres,
	}, nil
}

// buildConnectionString constructs a PostgreSQL connection string from config.
// Credentials are URL-encoded to handle special characters safely.
func buildConnectionString(cfg *config.PostgreSQLConfig) string {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.PathEscape(cfg.User),
		url.PathEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	connStr += "?sslmode=" + sslMode

	if cfg.Options != "" {
		connStr += "&" + cfg.Options
	}

	return connStr
}
