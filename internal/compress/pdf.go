package compress

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// Keep pdfcpu from creating a config directory under $HOME.
	api.DisableConfigDir()
}

// PDFOptimizer rewrites the PDF read from rs into w.
type PDFOptimizer interface {
	Optimize(rs io.ReadSeeker, w io.Writer) error
}

// PDFCPU optimizes with pdfcpu: content streams are recompressed, duplicate
// objects merged, unreferenced objects dropped and the document info kept.
type PDFCPU struct{}

// Optimize implements PDFOptimizer.
func (PDFCPU) Optimize(rs io.ReadSeeker, w io.Writer) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	return api.Optimize(rs, w, conf)
}

// compressPDF rewrites the PDF at path in place when the optimizer shrinks it.
func (p *Pipeline) compressPDF(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return failed(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return failed(path, err)
	}
	orig := info.Size()

	if p.pdf == nil {
		f.Close() //nolint:errcheck
		return unchanged(path, orig, OutcomeUnavailable)
	}

	var buf bytes.Buffer
	err = func() error {
		defer f.Close()
		return p.pdf.Optimize(f, &buf)
	}()
	if err != nil {
		return failed(path, fmt.Errorf("optimize: %w", err))
	}

	size := int64(buf.Len())
	if size == 0 || size >= orig {
		return unchanged(path, orig, OutcomeKept)
	}
	if err := replace(path, buf.Bytes()); err != nil {
		return failed(path, err)
	}
	return Result{FinalPath: path, OriginalSize: orig, NewSize: size, Outcome: OutcomeCompressed}
}
