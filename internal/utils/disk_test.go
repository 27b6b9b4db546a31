package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDiskSpace(t *testing.T) {
	info, err := GetDiskSpace(t.TempDir())
	if err != nil {
		t.Fatalf("GetDiskSpace failed: %v", err)
	}

	if info.TotalBytes == 0 {
		t.Error("TotalBytes should not be zero")
	}
	if info.FreeBytes > info.TotalBytes {
		t.Errorf("FreeBytes (%d) should not exceed TotalBytes (%d)", info.FreeBytes, info.TotalBytes)
	}
	if info.UsedBytes != info.TotalBytes-info.FreeBytes {
		t.Errorf("UsedBytes = %d, want %d", info.UsedBytes, info.TotalBytes-info.FreeBytes)
	}
	if info.UsedPercent < 0 || info.UsedPercent > 100 {
		t.Errorf("UsedPercent (%.2f) should be between 0 and 100", info.UsedPercent)
	}
}

func TestGetDiskSpace_InvalidPath(t *testing.T) {
	if _, err := GetDiskSpace("/this/path/definitely/does/not/exist/anywhere"); err == nil {
		t.Fatal("Expected error for invalid path, got nil")
	}
}

func TestCheckDiskSpace_TooLarge(t *testing.T) {
	// 1 EB never fits
	ok, msg, err := CheckDiskSpace(t.TempDir(), 1<<60, true)
	if err != nil {
		t.Fatalf("CheckDiskSpace failed: %v", err)
	}
	if ok {
		t.Error("Expected space check to fail for a 1 EB upload")
	}
	if msg == "" {
		t.Error("Expected an explanation message")
	}
}

func TestCheckDiskSpace_InvalidPath(t *testing.T) {
	ok, _, err := CheckDiskSpace("/this/path/does/not/exist", 1024, true)
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}
	if ok {
		t.Error("Expected ok = false on error")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestGetDirSize(t *testing.T) {
	dir := t.TempDir()

	size, err := GetDirSize(filepath.Join(dir, "missing"))
	if err != nil || size != 0 {
		t.Fatalf("GetDirSize(missing) = %d, %v; want 0, nil", size, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "posters"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0644)
	os.WriteFile(filepath.Join(dir, "posters", "b.bin"), make([]byte, 50), 0644)

	size, err = GetDirSize(dir)
	if err != nil {
		t.Fatalf("GetDirSize() error: %v", err)
	}
	if size != 150 {
		t.Errorf("GetDirSize() = %d, want 150", size)
	}
}
