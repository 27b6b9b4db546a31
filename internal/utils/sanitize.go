package utils

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxFolderLength bounds the destination folder of an upload.
	MaxFolderLength = 255

	// maxExtensionLength bounds the extension kept in generated file names.
	maxExtensionLength = 16
)

// ValidateFolder checks a client-supplied destination folder.
// A folder is one or more "/"-separated segments of letters, digits, '-', '_' and '.',
// with no "." or ".." segments, no leading slash and no backslashes.
// This keeps temp and published paths inside their roots.
func ValidateFolder(folder string) error {
	if folder == "" {
		return fmt.Errorf("folder cannot be empty")
	}
	if len(folder) > MaxFolderLength {
		return fmt.Errorf("folder exceeds %d characters", MaxFolderLength)
	}
	if strings.HasPrefix(folder, "/") || strings.HasSuffix(folder, "/") {
		return fmt.Errorf("folder must be relative without trailing slash")
	}

	for _, segment := range strings.Split(folder, "/") {
		if segment == "" {
			return fmt.Errorf("folder contains an empty segment")
		}
		if segment == "." || segment == ".." {
			return fmt.Errorf("folder contains path traversal segment")
		}
		for _, r := range segment {
			if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
				return fmt.Errorf("folder contains invalid character: %q", r)
			}
		}
	}

	return nil
}

// SanitizeExtension returns the lowercased extension of filename including the dot,
// or "" when the extension is missing, too long or not plain ASCII alphanumerics.
func SanitizeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return ""
		}
	}
	return ext
}
