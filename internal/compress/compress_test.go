package compress_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-attachments/internal/compress"
)

// noise returns a w×h image of seeded random pixels. alpha < 255 makes every
// pixel translucent.
func noise(w, h int, alpha uint8) *image.NRGBA {
	rng := rand.New(rand.NewSource(int64(w*h) + int64(alpha)))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: alpha,
			})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string, img image.Image, quality int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: quality}))
}

func size(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestClassify(t *testing.T) {
	tests := map[string]compress.Kind{
		"a.jpg":   compress.KindImage,
		"a.JPEG":  compress.KindImage,
		"a.png":   compress.KindImage,
		"a.webp":  compress.KindImage,
		"a.tif":   compress.KindImage,
		"a.pdf":   compress.KindPDF,
		"a.PDF":   compress.KindPDF,
		"a.docx":  compress.KindOther,
		"noext":   compress.KindOther,
		"a.pdf.x": compress.KindOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, compress.Classify(in), in)
	}
}

func TestOpaqueOversizedPNGBecomesJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "operacao_1_20240315_102030.png")
	writePNG(t, src, noise(2400, 1600, 255))
	orig := size(t, src)

	res := compress.New().Process(src)
	require.NoError(t, res.Err)
	assert.Equal(t, compress.OutcomeCompressed, res.Outcome)
	assert.Equal(t, compress.KindImage, res.Kind)
	assert.Equal(t, filepath.Join(dir, "operacao_1_20240315_102030.jpg"), res.FinalPath)
	assert.Equal(t, orig, res.OriginalSize)
	assert.Less(t, res.NewSize, res.OriginalSize)
	assert.Equal(t, res.NewSize, size(t, res.FinalPath))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err), "pre-conversion file must be removed")

	f, err := os.Open(res.FinalPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, name, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", name)
	assert.Equal(t, compress.MaxDimension, cfg.Width)
	assert.Equal(t, 1280, cfg.Height)
}

func TestJPEGExtensionKeptForJPEGInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpeg")
	writeJPEG(t, src, noise(2000, 500, 255), 100)

	res := compress.New().Process(src)
	require.Equal(t, compress.OutcomeCompressed, res.Outcome)
	assert.Equal(t, src, res.FinalPath)
}

func TestTranslucentImageStaysPNG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "logo.png")
	writePNG(t, src, noise(64, 64, 128))

	res := compress.New().Process(src)
	require.NoError(t, res.Err)
	assert.Contains(t, []compress.Outcome{compress.OutcomeCompressed, compress.OutcomeKept}, res.Outcome)
	assert.Equal(t, src, res.FinalPath)
	assert.LessOrEqual(t, res.NewSize, res.OriginalSize)

	f, err := os.Open(src)
	require.NoError(t, err)
	defer f.Close()
	_, name, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", name)
}

func TestAlreadySmallImageIsKept(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "thumb.jpg")
	writeJPEG(t, src, noise(64, 64, 255), 10)
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeKept, res.Outcome)
	assert.Equal(t, res.OriginalSize, res.NewSize)
	assert.Equal(t, src, res.FinalPath)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConversionTargetTaken(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	writePNG(t, src, noise(300, 300, 255))
	taken := filepath.Join(dir, "scan.jpg")
	require.NoError(t, os.WriteFile(taken, []byte("someone else"), 0o644))

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeKept, res.Outcome)
	assert.Equal(t, src, res.FinalPath)

	got, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "someone else", string(got))
}

func TestConversionNeverReplacesExistingEntry(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	writePNG(t, src, noise(300, 300, 255))
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	// A dangling link is invisible to os.Stat but still occupies the name.
	taken := filepath.Join(dir, "scan.jpg")
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere"), taken))

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeKept, res.Outcome)
	assert.Equal(t, src, res.FinalPath)

	fi, err := os.Lstat(taken)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink, "existing entry was replaced")
	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// withOrientation inserts an EXIF APP1 segment carrying the given
// orientation tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, bytes.HasPrefix(jpg, []byte{0xff, 0xd8}))

	var tiff bytes.Buffer
	tiff.WriteString("MM\x00\x2a")
	binary.Write(&tiff, binary.BigEndian, uint32(8))      //nolint:errcheck // IFD offset
	binary.Write(&tiff, binary.BigEndian, uint16(1))      //nolint:errcheck // entry count
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) //nolint:errcheck // Orientation
	binary.Write(&tiff, binary.BigEndian, uint16(3))      //nolint:errcheck // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))      //nolint:errcheck // count
	binary.Write(&tiff, binary.BigEndian, orientation)    //nolint:errcheck
	binary.Write(&tiff, binary.BigEndian, uint16(0))      //nolint:errcheck // padding
	binary.Write(&tiff, binary.BigEndian, uint32(0))      //nolint:errcheck // next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xff, 0xe1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2)) //nolint:errcheck
	out.Write(payload)
	out.Write(jpg[2:])
	return out.Bytes()
}

func TestExifOrientationApplied(t *testing.T) {
	var raw bytes.Buffer
	require.NoError(t, jpeg.Encode(&raw, noise(2400, 1200, 255), &jpeg.Options{Quality: 100}))

	// Orientation 6: the camera was turned a quarter turn, so the upright
	// picture is portrait.
	src := filepath.Join(t.TempDir(), "foto.jpg")
	require.NoError(t, os.WriteFile(src, withOrientation(t, raw.Bytes(), 6), 0o644))

	res := compress.New().Process(src)
	require.NoError(t, res.Err)
	require.Equal(t, compress.OutcomeCompressed, res.Outcome)

	f, err := os.Open(res.FinalPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 960, cfg.Width)
	assert.Equal(t, compress.MaxDimension, cfg.Height)
}

func TestCorruptImageFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(src, []byte("not a jpeg at all"), 0o644))

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, src, res.FinalPath)
	assert.Zero(t, res.OriginalSize)
	assert.Zero(t, res.NewSize)
	assert.FileExists(t, src)
}

func TestMissingFileFails(t *testing.T) {
	res := compress.New().Process(filepath.Join(t.TempDir(), "gone.txt"))
	assert.Equal(t, compress.OutcomeFailed, res.Outcome)
	assert.Zero(t, res.NewSize)
}

func TestOtherFilesPassThrough(t *testing.T) {
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("a"), 4096), 0o644))

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeUnsupported, res.Outcome)
	assert.Equal(t, int64(4096), res.OriginalSize)
	assert.Equal(t, int64(4096), res.NewSize)
	assert.Equal(t, compress.KindOther, res.Kind)
}

// fakeOptimizer emits out regardless of input.
type fakeOptimizer struct {
	out []byte
	err error
}

func (f fakeOptimizer) Optimize(rs io.ReadSeeker, w io.Writer) error {
	if _, err := io.Copy(io.Discard, rs); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.out)
	return err
}

func writeFakePDF(t *testing.T, n int) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("%"), n), 0o644))
	return src
}

func TestPDFStrictlySmallerRule(t *testing.T) {
	t.Run("smaller replaces", func(t *testing.T) {
		src := writeFakePDF(t, 100)
		res := compress.New(compress.WithPDFOptimizer(fakeOptimizer{out: []byte("%PDF-small")})).Process(src)
		assert.Equal(t, compress.OutcomeCompressed, res.Outcome)
		assert.Equal(t, src, res.FinalPath)
		got, err := os.ReadFile(src)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-small", string(got))
	})
	t.Run("equal is kept", func(t *testing.T) {
		src := writeFakePDF(t, 10)
		res := compress.New(compress.WithPDFOptimizer(fakeOptimizer{out: bytes.Repeat([]byte("x"), 10)})).Process(src)
		assert.Equal(t, compress.OutcomeKept, res.Outcome)
		assert.Equal(t, int64(10), res.NewSize)
	})
	t.Run("larger is kept", func(t *testing.T) {
		src := writeFakePDF(t, 10)
		res := compress.New(compress.WithPDFOptimizer(fakeOptimizer{out: bytes.Repeat([]byte("x"), 50)})).Process(src)
		assert.Equal(t, compress.OutcomeKept, res.Outcome)
		got, err := os.ReadFile(src)
		require.NoError(t, err)
		assert.Len(t, got, 10)
	})
	t.Run("optimizer error", func(t *testing.T) {
		src := writeFakePDF(t, 10)
		res := compress.New(compress.WithPDFOptimizer(fakeOptimizer{err: errors.New("boom")})).Process(src)
		assert.Equal(t, compress.OutcomeFailed, res.Outcome)
		assert.Zero(t, res.OriginalSize)
	})
	t.Run("disabled", func(t *testing.T) {
		src := writeFakePDF(t, 10)
		res := compress.New(compress.WithPDFOptimizer(nil)).Process(src)
		assert.Equal(t, compress.OutcomeUnavailable, res.Outcome)
		assert.Equal(t, res.OriginalSize, res.NewSize)
	})
}

type panickingOptimizer struct{}

func (panickingOptimizer) Optimize(io.ReadSeeker, io.Writer) error {
	panic("optimizer bug")
}

func TestProcessRecoversFromPanic(t *testing.T) {
	src := writeFakePDF(t, 64)

	res := compress.New(compress.WithPDFOptimizer(panickingOptimizer{})).Process(src)
	assert.Equal(t, compress.OutcomeFailed, res.Outcome)
	assert.Equal(t, compress.KindPDF, res.Kind)
	assert.Equal(t, src, res.FinalPath)
	assert.Zero(t, res.OriginalSize)
	assert.Zero(t, res.NewSize)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "optimizer bug")
	assert.Equal(t, int64(64), size(t, src))
}

func TestPDFCPUOptimize(t *testing.T) {
	src := filepath.Join(t.TempDir(), "relatorio.pdf")
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Relatorio de operacao", true)
	for range 3 {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 12)
		for range 40 {
			doc.Cell(0, 6, "Operacao 42 - linha repetida para compressao")
			doc.Ln(6)
		}
	}
	require.NoError(t, doc.OutputFileAndClose(src))
	orig := size(t, src)

	res := compress.New().Process(src)
	require.NoError(t, res.Err)
	assert.Contains(t, []compress.Outcome{compress.OutcomeCompressed, compress.OutcomeKept}, res.Outcome)
	assert.Equal(t, orig, res.OriginalSize)
	assert.LessOrEqual(t, res.NewSize, res.OriginalSize)
	assert.Equal(t, res.NewSize, size(t, src))

	head := make([]byte, 5)
	f, err := os.Open(src)
	require.NoError(t, err)
	defer f.Close()
	_, err = io.ReadFull(f, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(head))
}

func TestCorruptPDFFails(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 garbage"), 0o644))

	res := compress.New().Process(src)
	assert.Equal(t, compress.OutcomeFailed, res.Outcome)
	assert.Zero(t, res.NewSize)
	assert.FileExists(t, src)
}
