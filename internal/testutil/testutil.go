// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"database/sql"
	"net/http/httptest"
	"testing"

	"github.com/nimeninja/ingestd/internal/database"

	_ "modernc.org/sqlite"
)

// SetupTestDB creates an in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// IMPORTANT: Force single connection for in-memory databases
	// Each connection in the pool gets its own separate :memory: database
	db.SetMaxOpenConns(1)

	if err := database.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// AssertStatusCode fails the test if the recorded status differs from want.
func AssertStatusCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}
