package store

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; every error returned by Local wraps
// exactly one of these.
var (
	// ErrValidation is returned for malformed input such as a filename
	// carrying path separators or "..".
	ErrValidation = errors.New("invalid input")

	// ErrNoFile is returned when an upload stream is missing or empty.
	ErrNoFile = errors.New("no file provided")

	// ErrDirectory is returned when a storage directory cannot be created.
	ErrDirectory = errors.New("storage directory unavailable")

	// ErrSave is returned when a write could not be confirmed on disk.
	ErrSave = errors.New("file could not be saved")

	// ErrNotFound is returned when no stored file matches a lookup.
	ErrNotFound = errors.New("file not found")

	// ErrPermission is returned when a stored file exists but cannot be read.
	ErrPermission = errors.New("file not readable")
)

// Error carries the failing operation and the server-side path involved.
// Path is for operators only; it must never reach an untrusted client.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
