package sqlite

import (
	"context"
	"testing"

	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/testutil"
)

func TestNewRepositories_Success(t *testing.T) {
	db := testutil.SetupTestDB(t)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("NewRepositories() error = %v", err)
	}

	if repos.Files == nil {
		t.Error("Files repository is nil")
	}
	if repos.Health == nil {
		t.Error("Health repository is nil")
	}
	if repos.DatabaseType != repository.DatabaseTypeSQLite {
		t.Errorf("DatabaseType = %q, want %q", repos.DatabaseType, repository.DatabaseTypeSQLite)
	}
	if err := repos.Health.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewRepositories_NilDatabase(t *testing.T) {
	repos, err := NewRepositories(nil)
	if err != repository.ErrNilDatabase {
		t.Errorf("NewRepositories() error = %v, want %v", err, repository.ErrNilDatabase)
	}
	if repos != nil {
		t.Error("NewRepositories() expected nil repos for nil database")
	}
}
