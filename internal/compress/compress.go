// Package compress shrinks stored attachments after upload.
//
// Process dispatches on the file extension: images are re-encoded (downscaled
// to MaxDimension, JPEG unless they carry transparency), PDFs are rewritten
// by a PDFOptimizer, anything else passes through. A result only replaces
// the stored file when it is strictly smaller. Compression is an
// optimization; Process never returns an error, it reports one in Result.
package compress

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// TempPrefix marks in-flight rewrite files; cleanup sweeps stale ones.
const TempPrefix = ".compress-"

// Kind is the processing path chosen for a file.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindOther Kind = "other"
)

// Outcome says what Process did with a file.
type Outcome string

const (
	// OutcomeCompressed means a smaller rewrite replaced the file.
	OutcomeCompressed Outcome = "compressed"
	// OutcomeKept means the rewrite was not smaller and was discarded.
	OutcomeKept Outcome = "kept"
	// OutcomeUnsupported means the extension has no compression path.
	OutcomeUnsupported Outcome = "unsupported"
	// OutcomeUnavailable means PDF optimization is disabled.
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeFailed means processing errored; the file is untouched.
	OutcomeFailed Outcome = "failed"
)

// Result describes one Process call. NewSize never exceeds OriginalSize.
// A failed run reports both sizes as zero.
type Result struct {
	FinalPath    string
	OriginalSize int64
	NewSize      int64
	Kind         Kind
	Outcome      Outcome
	Err          error
}

// Saved is the number of bytes reclaimed.
func (r Result) Saved() int64 { return r.OriginalSize - r.NewSize }

// Pipeline runs the compression paths. The zero value is not usable; call New.
type Pipeline struct {
	logger  *zap.Logger
	pdf     PDFOptimizer
	maxDim  int
	quality int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPDFOptimizer replaces the PDF optimizer. nil disables the PDF path.
func WithPDFOptimizer(o PDFOptimizer) Option {
	return func(p *Pipeline) { p.pdf = o }
}

// New returns a Pipeline using pdfcpu for PDFs.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:  zap.NewNop(),
		pdf:     PDFCPU{},
		maxDim:  MaxDimension,
		quality: JPEGQuality,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify picks the processing path for path by its extension.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageFormats[ext]; ok {
		return KindImage
	}
	if ext == ".pdf" {
		return KindPDF
	}
	return KindOther
}

// Process compresses the file at path in place. For images whose container
// changes, the file is renamed and Result.FinalPath holds the new path.
func (p *Pipeline) Process(path string) (res Result) {
	kind := Classify(path)
	defer func() {
		if r := recover(); r != nil {
			res = failed(path, fmt.Errorf("panic: %v", r))
		}
		res.Kind = kind
		p.report(res)
	}()

	switch kind {
	case KindImage:
		return p.compressImage(path)
	case KindPDF:
		return p.compressPDF(path)
	default:
		info, err := os.Stat(path)
		if err != nil {
			return failed(path, err)
		}
		return unchanged(path, info.Size(), OutcomeUnsupported)
	}
}

func (p *Pipeline) report(res Result) {
	fields := []zap.Field{
		zap.String("path", res.FinalPath),
		zap.String("kind", string(res.Kind)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("original_bytes", res.OriginalSize),
		zap.Int64("new_bytes", res.NewSize),
	}
	switch res.Outcome {
	case OutcomeCompressed:
		p.logger.Info("attachment compressed", fields...)
	case OutcomeFailed:
		p.logger.Warn("attachment compression failed", append(fields, zap.Error(res.Err))...)
	default:
		p.logger.Debug("attachment left as is", fields...)
	}
}

func failed(path string, err error) Result {
	return Result{FinalPath: path, Outcome: OutcomeFailed, Err: err}
}

func unchanged(path string, size int64, outcome Outcome) Result {
	return Result{FinalPath: path, OriginalSize: size, NewSize: size, Outcome: outcome}
}

// replace writes data to target via a temp file and an atomic rename.
func replace(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	_, werr := bytes.NewReader(data).WriteTo(tmp)
	cerr := tmp.Close()
	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write tmp: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("flush: %w", cerr)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename to %q: %w", target, err)
	}
	return nil
}
