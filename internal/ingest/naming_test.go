package ingest

import (
	"regexp"
	"testing"
	"time"
)

var generatedName = regexp.MustCompile(`^1700000000123-[A-Za-z0-9]{6}-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]+)?$`)

func TestGenerateFileName(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	tests := []struct {
		original string
		wantExt  string
	}{
		{"Poster.PNG", ".png"},
		{"movie.final.mkv", ".mkv"},
		{"noext", ""},
		{"weird.p$g", ""},
	}

	for _, tt := range tests {
		name := GenerateFileName(tt.original, now)
		if !generatedName.MatchString(name) {
			t.Errorf("GenerateFileName(%q) = %q, unexpected format", tt.original, name)
		}
		if tt.wantExt != "" && name[len(name)-len(tt.wantExt):] != tt.wantExt {
			t.Errorf("GenerateFileName(%q) = %q, want extension %s", tt.original, name, tt.wantExt)
		}
	}

	a := GenerateFileName("a.png", now)
	b := GenerateFileName("a.png", now)
	if a == b {
		t.Errorf("two names generated at the same instant collide: %s", a)
	}
}
