package repository

// DatabaseType identifies the backing store.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Files  FileRepository
	Health HealthRepository

	DatabaseType DatabaseType

	// Cleanup releases the underlying connection or pool.
	Cleanup func()
}

// Close releases database resources.
func (r *Repositories) Close() {
	if r != nil && r.Cleanup != nil {
		r.Cleanup()
	}
}
