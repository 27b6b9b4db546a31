package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepTempDir(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	oldFile := filepath.Join(root, "posters", "old.png")
	freshFile := filepath.Join(root, "subtitles", "fresh.srt")
	for _, p := range []string{oldFile, freshFile} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	old := now.Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatal(err)
	}

	deleted, err := SweepTempDir(context.Background(), root, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("SweepTempDir() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old temp file still exists")
	}
	if _, err := os.Stat(filepath.Dir(oldFile)); !os.IsNotExist(err) {
		t.Error("empty posters folder was not pruned")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Errorf("fresh temp file removed: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("temp root removed: %v", err)
	}
}

func TestSweepTempDir_MissingRoot(t *testing.T) {
	deleted, err := SweepTempDir(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Hour, time.Now())
	if err != nil || deleted != 0 {
		t.Errorf("SweepTempDir(missing) = %d, %v; want 0, nil", deleted, err)
	}
}

func TestStartTempSweeper_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		StartTempSweeper(ctx, t.TempDir(), time.Hour, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StartTempSweeper did not return after cancel")
	}
}
