package store

import (
	"bytes"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is the number of leading bytes read before a write commits.
const sniffLen = 512

// peek reads up to sniffLen bytes from r and returns how many it got along
// with a reader that replays them followed by the rest of r. A zero count
// with a nil error means the stream is empty.
func peek(r io.Reader) (int, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil, err
	}
	head = head[:n]
	return n, io.MultiReader(bytes.NewReader(head), r), nil
}

// ContentType detects the MIME type of an open file and rewinds it.
// Unknown content falls back to application/octet-stream.
func ContentType(f io.ReadSeeker) string {
	mt, err := mimetype.DetectReader(f)
	if _, serr := f.Seek(0, io.SeekStart); serr != nil || err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
