package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Label is the directory under the storage root holding operation task
// attachments. It is also the first segment of every public path.
const Label = "TarefasOperação"

var (
	yearRe  = regexp.MustCompile(`^\d{4}$`)
	monthRe = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
)

// SanitizeEntity reduces an entity name to a filesystem-safe token: ASCII
// letters, digits, space, '-', '_', '(' and ')' are kept, everything else is
// dropped, and the result is trimmed. Saves and lookups must both go through
// here or retrieval silently misses.
func SanitizeEntity(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '(', r == ')':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// EnsureDir derives the directory for (entity, year, month) and creates it.
// Empty year or month default to the current date. base is the label
// directory under the root; full is the leaf directory.
func (l *Local) EnsureDir(entity, year, month string) (base, full string, err error) {
	now := l.now()
	if year == "" {
		year = now.Format("2006")
	}
	if month == "" {
		month = now.Format("01")
	}
	full, err = l.Dir(entity, year, month)
	if err != nil {
		return "", "", err
	}
	base = filepath.Join(l.root, Label)

	if _, statErr := os.Stat(full); os.IsNotExist(statErr) {
		if err := os.MkdirAll(full, 0o755); err != nil {
			return "", "", newError(ErrDirectory, "ensure dir", full, err)
		}
		l.logger.Info("created attachment directory", zap.String("dir", full))
	} else if statErr != nil {
		return "", "", newError(ErrDirectory, "ensure dir", full, statErr)
	}
	return base, full, nil
}

// Dir derives the directory for (entity, year, month) without touching disk.
func (l *Local) Dir(entity, year, month string) (string, error) {
	safe := SanitizeEntity(entity)
	if safe == "" {
		return "", newError(ErrValidation, "dir", "", fmt.Errorf("entity name %q is empty after sanitizing", entity))
	}
	if !yearRe.MatchString(year) {
		return "", newError(ErrValidation, "dir", "", fmt.Errorf("year %q must have 4 digits", year))
	}
	if !monthRe.MatchString(month) {
		return "", newError(ErrValidation, "dir", "", fmt.Errorf("month %q must be 01-12", month))
	}
	return filepath.Join(l.root, Label, safe, year, month), nil
}

// isValidName rejects empty values and path-traversal attempts.
func isValidName(name string) bool {
	return name != "" &&
		!strings.Contains(name, "/") &&
		!strings.Contains(name, "\\") &&
		!strings.Contains(name, "..")
}
