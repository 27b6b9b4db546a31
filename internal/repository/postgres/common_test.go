package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestValidateStoredFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{name: "generated name", filename: "1700000000000-aB3dE9-6f1c2a8e-0e0b-4b8e-9d7e-3a3f0c6b2d11.png", wantErr: false},
		{name: "no extension", filename: "1700000000000-aB3dE9-6f1c2a8e", wantErr: false},
		{name: "empty", filename: "", wantErr: true},
		{name: "forward slash", filename: "posters/a.png", wantErr: true},
		{name: "backslash", filename: "posters\\a.png", wantErr: true},
		{name: "traversal", filename: "../../etc/passwd", wantErr: true},
		{name: "hidden", filename: ".hidden", wantErr: true},
		{name: "space", filename: "a b.png", wantErr: true},
		{name: "unicode", filename: "файл.png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStoredFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateStoredFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: SerializationFailure}, expected: true},
		{name: "deadlock detected", err: &pgconn.PgError{Code: DeadlockDetected}, expected: true},
		{name: "wrapped deadlock", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: DeadlockDetected}), expected: true},
		{name: "unique violation", err: &pgconn.PgError{Code: UniqueViolation}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: UniqueViolation}) {
		t.Error("isUniqueViolation() = false for 23505")
	}
	if isUniqueViolation(errors.New("duplicate")) {
		t.Error("isUniqueViolation() = true for a plain error")
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	got, err := withRetry(ctx, 3, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &pgconn.PgError{Code: SerializationFailure}
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("withRetry() = %d, %v; want 42, nil", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	_, err = withRetry(ctx, 3, func() (int, error) {
		calls++
		return 0, errors.New("permanent")
	})
	if err == nil || calls != 1 {
		t.Errorf("non-retryable: calls = %d, err = %v; want 1 call and an error", calls, err)
	}
}
