package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SubRipMime is the type assigned to unrecognised .srt files.
const SubRipMime = "application/x-subrip"

// DefaultAllowedMimeTypes is accepted when no list is configured.
var DefaultAllowedMimeTypes = []string{
	"application/zip",
	"application/x-rar-compressed",
	"application/vnd.rar",
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/avif",
	SubRipMime,
	"video/mp4",
	"video/webm",
	"video/x-matroska",
}

// DeniedMimeTypes always fail validation, even when the allow-list matches.
var DeniedMimeTypes = []string{
	"application/x-msdownload",
	"application/vnd.microsoft.portable-executable",
	"application/x-executable",
	"application/x-elf",
	"application/x-mach-binary",
	"application/x-sh",
	"application/x-php",
	"text/html",
	"application/javascript",
	"text/javascript",
	"application/x-python",
	"text/x-python",
	"application/x-perl",
	"text/x-perl",
	"application/x-ruby",
}

// Validator decides from file bytes whether an upload may be published.
type Validator struct {
	allowed []string
	denied  []string
}

// NewValidator builds a validator for the allowed MIME types.
// An empty list selects DefaultAllowedMimeTypes.
func NewValidator(allowed []string) *Validator {
	if len(allowed) == 0 {
		allowed = DefaultAllowedMimeTypes
	}
	return &Validator{
		allowed: append([]string(nil), allowed...),
		denied:  DeniedMimeTypes,
	}
}

// Validate sniffs the file at path and returns its MIME type.
// originalName only matters for the subtitle fallback; the client-declared type is never consulted.
func (v *Validator) Validate(path, originalName string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to sniff file: %w", err)
	}

	detected := baseType(mtype.String())

	// Plain text has no signature; trust the extension only for subtitles
	if (mtype.Is("application/octet-stream") || mtype.Is("text/plain")) &&
		strings.ToLower(filepath.Ext(originalName)) == ".srt" {
		return SubRipMime, nil
	}

	for m := mtype; m != nil; m = m.Parent() {
		for _, d := range v.denied {
			if m.Is(d) {
				return detected, fmt.Errorf("file type is blocked: %s", detected)
			}
		}
	}

	for _, a := range v.allowed {
		if mtype.Is(a) {
			return detected, nil
		}
	}

	return detected, fmt.Errorf("file type is not allowed: %s", detected)
}

// baseType strips MIME parameters such as "; charset=utf-8".
func baseType(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}
