package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameLen bounds sanitized artifact names.
const maxNameLen = 128

// SanitizeFilename makes a safe filename from an arbitrary string. Only
// characters a filesystem rejects are replaced: path separators, NUL and
// other control characters, and the Windows reserved set <>:"|?*. Each run of
// them becomes one underscore. Unicode letters and spaces are kept. Leading
// and trailing dots and spaces are trimmed, and the result is capped at
// maxNameLen bytes without splitting a rune. An empty result becomes
// "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastReplaced := false
	for _, r := range s {
		if rejectedRune(r) {
			if lastReplaced {
				continue
			}
			r = '_'
			lastReplaced = true
		} else {
			lastReplaced = false
		}
		if b.Len()+utf8.RuneLen(r) > maxNameLen {
			break
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "unknown"
	}
	return out
}

func rejectedRune(r rune) bool {
	switch r {
	case '/', '\\', '<', '>', ':', '"', '|', '?', '*':
		return true
	}
	return r == utf8.RuneError || unicode.IsControl(r)
}

// ValidatePathWithinDirectory reports an error when filePath, once cleaned,
// would resolve outside dir. The check is lexical so it applies equally to
// the in-memory filesystem.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, dir)
	}
	return nil
}

// ArtifactPath joins dir with the sanitized name and extension, returning an
// error if the result would escape dir.
func ArtifactPath(dir, name, ext string) (string, error) {
	p := filepath.Join(dir, SanitizeFilename(name)+ext)
	if err := ValidatePathWithinDirectory(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
