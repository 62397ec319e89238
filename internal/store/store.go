package store

import (
	"io"
	"os"
	"time"
)

// Backend abstracts attachment storage.
// Handlers depend on this so tests can swap in a fake without touching disk.
type Backend interface {
	// Persist stores r for operationID under entity and returns the public
	// relative path ("TarefasOperação/<entity>/<yyyy>/<mm>/<name>").
	Persist(r io.Reader, originalName, operationID, entity string) (string, error)

	// Resolve locates a stored file by its coordinate tuple, tolerating case
	// and extension drift. Caller must close Attachment.File.
	Resolve(entity, year, month, filename string) (*Attachment, error)

	// Remove deletes the file Resolve would serve.
	Remove(entity, year, month, filename string) error

	// Abs maps a relative public path to its location on disk.
	Abs(rel string) (string, error)
}

// Attachment is an opened stored file returned by Resolve.
type Attachment struct {
	File      *os.File
	Name      string // name on disk
	Requested string // name the caller asked for
	Dir       string // directory searched; server-side only
	Size      int64
	ModTime   time.Time

	// Normalized is true when Name differs from Requested.
	Normalized bool
}

// Close closes the underlying file.
func (a *Attachment) Close() error { return a.File.Close() }
