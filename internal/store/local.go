package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TempPrefix marks in-flight upload files; cleanup sweeps stale ones.
	TempPrefix = ".upload-"

	// maxReserveAttempts bounds the retries when a stored name is taken.
	maxReserveAttempts = 8
)

// Local stores attachments on the local filesystem under a root directory,
// laid out as <root>/TarefasOperação/<entity>/<yyyy>/<mm>/<file>.
//
// Cross-platform notes:
//   - filepath is used for disk paths; public paths always use '/'.
//   - os.Rename is used for atomic writes. On Windows it calls MoveFileExW with
//     MOVEFILE_REPLACE_EXISTING, which is safe on the same volume.
type Local struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
	token  func() string
}

// Option configures a Local.
type Option func(*Local)

// WithClock overrides the time source used for default dates and names.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates a Local backend rooted at root, creating the directory if needed.
func NewLocal(root string, opts ...Option) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	// Resolve to an absolute path so all subsequent filepath.Rel checks are stable.
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	l := &Local{
		root:   absRoot,
		logger: zap.NewNop(),
		now:    time.Now,
		token:  shortToken,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

// DiskStats reports available and total bytes on the root's filesystem.
// (0, 0) means unavailable on this platform.
func (l *Local) DiskStats() (avail, total uint64) { return diskStats(l.root) }

// Persist writes r as a new attachment of operationID under entity, dated
// today. The client's filename only contributes its extension.
func (l *Local) Persist(r io.Reader, originalName, operationID, entity string) (string, error) {
	const op = "persist"
	if r == nil {
		return "", newError(ErrNoFile, op, "", nil)
	}
	n, full, err := peek(r)
	if err != nil {
		return "", newError(ErrSave, op, "", fmt.Errorf("read upload: %w", err))
	}
	if n == 0 {
		return "", newError(ErrNoFile, op, "", nil)
	}
	if !isValidName(operationID) {
		return "", newError(ErrValidation, op, "", fmt.Errorf("invalid operation id %q", operationID))
	}

	now := l.now()
	year, month := now.Format("2006"), now.Format("01")
	_, dir, err := l.EnsureDir(entity, year, month)
	if err != nil {
		return "", err
	}

	name, err := l.reserve(dir, storedName(originalName, operationID, now))
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)

	written, err := writeAtomic(dest, full)
	if err != nil {
		os.Remove(dest) //nolint:errcheck
		return "", newError(ErrSave, op, dest, err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", newError(ErrSave, op, dest, err)
	}
	if err := os.Chmod(dest, 0o644); err != nil {
		return "", newError(ErrSave, op, dest, err)
	}

	rel := path.Join(Label, SanitizeEntity(entity), year, month, name)
	l.logger.Info("attachment saved",
		zap.String("operation_id", operationID),
		zap.String("path", rel),
		zap.Int64("bytes", written))
	return rel, nil
}

// Resolve finds the stored file for (entity, year, month, filename).
// Candidates are tried in CandidateNames order, first by exact name. When none
// exists verbatim, any entry equal to a candidate under case folding is
// accepted, so a stored "REPORT.jpg" answers a request for "Report.jpg" even
// though that spelling is not itself a candidate.
func (l *Local) Resolve(entity, year, month, filename string) (*Attachment, error) {
	const op = "resolve"
	if !isValidName(filename) {
		return nil, newError(ErrValidation, op, "", fmt.Errorf("invalid filename %q", filename))
	}
	dir, err := l.Dir(entity, year, month)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, newError(ErrPermission, op, dir, err)
		}
		l.logger.Info("attachment directory missing", zap.String("dir", dir), zap.String("filename", filename))
		return nil, newError(ErrNotFound, op, dir, err)
	}

	name, ok := match(dir, entries, CandidateNames(filename))
	if !ok {
		l.logger.Info("attachment not found", zap.String("dir", dir), zap.String("filename", filename))
		return nil, newError(ErrNotFound, op, dir, nil)
	}

	full := filepath.Join(dir, name)
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return nil, newError(ErrNotFound, op, dir, err)
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			l.logger.Warn("attachment not readable", zap.String("path", full), zap.Error(err))
			return nil, newError(ErrPermission, op, full, err)
		}
		return nil, newError(ErrNotFound, op, dir, err)
	}

	return &Attachment{
		File:       f,
		Name:       name,
		Requested:  filename,
		Dir:        dir,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Normalized: name != filename,
	}, nil
}

// Remove deletes the file Resolve would serve for the same coordinates.
func (l *Local) Remove(entity, year, month, filename string) error {
	att, err := l.Resolve(entity, year, month, filename)
	if err != nil {
		return err
	}
	att.Close() //nolint:errcheck

	full := filepath.Join(att.Dir, att.Name)
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return newError(ErrPermission, "remove", full, err)
		}
		return newError(ErrSave, "remove", full, err)
	}
	l.logger.Info("attachment removed", zap.String("path", full))
	return nil
}

// Abs resolves a public relative path to a concrete filesystem path.
// filepath.Rel verifies the result still lives under root.
func (l *Local) Abs(rel string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(rel)))
	r, err := filepath.Rel(l.root, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", newError(ErrValidation, "abs", "", fmt.Errorf("path %q escapes storage root", rel))
	}
	return joined, nil
}

// reserve claims name in dir with O_EXCL so concurrent saves in the same
// second cannot overwrite each other. A taken name gets a random suffix.
func (l *Local) reserve(dir, name string) (string, error) {
	candidate := name
	for range maxReserveAttempts {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close() //nolint:errcheck
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", newError(ErrSave, "reserve", filepath.Join(dir, candidate), err)
		}
		candidate = withSuffix(name, l.token())
	}
	return "", newError(ErrSave, "reserve", filepath.Join(dir, name), errors.New("no free name"))
}

// storedName builds the on-disk name for a new upload:
// "<op>.jpg" when the client name has no extension, otherwise
// "operacao_<op>_<YYYYMMDD_HHMMSS><ext>" with ext lower-cased.
func storedName(originalName, operationID string, at time.Time) string {
	ext := cleanExt(originalName)
	if ext == "" {
		return operationID + ".jpg"
	}
	return fmt.Sprintf("operacao_%s_%s%s", operationID, at.Format("20060102_150405"), ext)
}

// cleanExt returns the lower-cased extension of name with anything but
// ASCII letters and digits removed, or "" when nothing usable is left.
func cleanExt(name string) string {
	ext := filepath.Ext(filepath.Base(filepath.FromSlash(name)))
	if len(ext) < 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(ext[1:]) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}

func withSuffix(name, token string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + token + ext
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// match returns the first candidate present in entries as a regular file.
// Any exact name beats every case-folded one; among folded matches the
// lexically first entry wins (os.ReadDir sorts by name).
func match(dir string, entries []fs.DirEntry, candidates []string) (string, bool) {
	files := make([]string, 0, len(entries))
	exact := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !isRegular(dir, e) {
			continue
		}
		files = append(files, e.Name())
		exact[e.Name()] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := exact[c]; ok {
			return c, true
		}
	}
	for _, c := range candidates {
		for _, f := range files {
			if strings.EqualFold(f, c) {
				return f, true
			}
		}
	}
	return "", false
}

func isRegular(dir string, e fs.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}

// writeAtomic streams r to dest using a temp file in the same directory and
// an atomic rename.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), TempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	buf := make([]byte, 512*1024)
	n, werr := io.CopyBuffer(tmp, r, buf)
	cerr := tmp.Close()

	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return 0, fmt.Errorf("stream write: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return 0, fmt.Errorf("flush: %w", cerr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return 0, fmt.Errorf("rename to %q: %w", dest, err)
	}
	return n, nil
}
