package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	// MinimumFreeSpace is the minimum free disk space required (in bytes)
	MinimumFreeSpace = 1 * 1024 * 1024 * 1024 // 1GB

	// MaximumDiskUsagePercent is the maximum allowed disk usage percentage
	MaximumDiskUsagePercent = 80 // 80%
)

// DiskSpaceInfo contains information about disk space
type DiskSpaceInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
	UsedBytes      uint64
	UsedPercent    float64
}

// GetDiskSpace returns disk space information for a given path
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk space: %w", err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize) // Available to non-root users
	usedBytes := totalBytes - freeBytes

	var usedPercent float64
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	return &DiskSpaceInfo{
		TotalBytes:     totalBytes,
		FreeBytes:      freeBytes,
		AvailableBytes: availableBytes,
		UsedBytes:      usedBytes,
		UsedPercent:    usedPercent,
	}, nil
}

// CheckDiskSpace checks if there is enough disk space for an upload
// Returns true if space is available, false otherwise with an error message
// skipPercentCheck disables the usage percentage limit
func CheckDiskSpace(path string, uploadSize int64, skipPercentCheck bool) (bool, string, error) {
	info, err := GetDiskSpace(path)
	if err != nil {
		return false, "Failed to check disk space", err
	}

	if info.AvailableBytes < MinimumFreeSpace {
		return false, "Insufficient disk space (less than 1GB available)", nil
	}

	if !skipPercentCheck && info.TotalBytes > 0 {
		projectedUsed := info.UsedBytes + uint64(uploadSize)
		projectedPercent := float64(projectedUsed) / float64(info.TotalBytes) * 100

		if projectedPercent > MaximumDiskUsagePercent {
			return false, fmt.Sprintf("Upload would exceed disk capacity limit (%d%%)", MaximumDiskUsagePercent), nil
		}
	}

	if uploadSize > 0 && uint64(uploadSize) > info.AvailableBytes {
		return false, "File size exceeds available disk space", nil
	}

	return true, "", nil
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetDirSize returns the total size of regular files below dir.
// A missing directory has size 0.
func GetDirSize(dir string) (int64, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	var totalSize int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip files/directories we can't access
			return nil
		}
		if info.Mode().IsRegular() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to calculate directory size: %w", err)
	}

	return totalSize, nil
}
