package compress

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // register the WebP decoder
)

const (
	// MaxDimension is the longest side kept after downscaling.
	MaxDimension = 1920
	// JPEGQuality is used for every lossy re-encode.
	JPEGQuality = 85
)

// format names an image container.
type format string

const (
	formatJPEG format = "jpeg"
	formatPNG  format = "png"
	formatGIF  format = "gif"
	formatBMP  format = "bmp"
	formatTIFF format = "tiff"
	formatWEBP format = "webp"
)

var imageFormats = map[string]format{
	".jpg":  formatJPEG,
	".jpeg": formatJPEG,
	".png":  formatPNG,
	".gif":  formatGIF,
	".bmp":  formatBMP,
	".tif":  formatTIFF,
	".tiff": formatTIFF,
	".webp": formatWEBP,
}

// compressImage re-encodes the picture at path. Orientation from EXIF is applied,
// oversized pictures are fitted into MaxDimension, and the output is PNG
// when the picture has transparency and JPEG otherwise.
func (p *Pipeline) compressImage(path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return failed(path, err)
	}
	orig := info.Size()

	// AutoOrientation ignores missing or broken EXIF data.
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return failed(path, fmt.Errorf("decode: %w", err))
	}
	alpha := !isOpaque(img)

	if b := img.Bounds(); b.Dx() > p.maxDim || b.Dy() > p.maxDim {
		img = imaging.Fit(img, p.maxDim, p.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	out := formatJPEG
	if alpha {
		out = formatPNG
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality})
	}
	if err != nil {
		return failed(path, fmt.Errorf("encode %s: %w", out, err))
	}

	size := int64(buf.Len())
	if size >= orig {
		return unchanged(path, orig, OutcomeKept)
	}

	target := path
	if in := imageFormats[strings.ToLower(filepath.Ext(path))]; in != out {
		target = strings.TrimSuffix(path, filepath.Ext(path)) + out.ext()
		// Claim the new name with O_EXCL so a concurrent upload that reserves
		// the same name is never overwritten.
		claimed, err := claim(target)
		if err != nil {
			return failed(path, err)
		}
		if !claimed {
			p.logger.Warn("converted name already taken, keeping original",
				zap.String("path", path), zap.String("target", target))
			return unchanged(path, orig, OutcomeKept)
		}
	}

	if err := replace(target, buf.Bytes()); err != nil {
		if target != path {
			os.Remove(target) //nolint:errcheck
		}
		return failed(path, err)
	}
	if target != path {
		if err := os.Remove(path); err != nil {
			p.logger.Warn("remove pre-conversion file", zap.String("path", path), zap.Error(err))
		}
	}
	return Result{FinalPath: target, OriginalSize: orig, NewSize: size, Outcome: OutcomeCompressed}
}

// claim creates target exclusively. It reports false when the name already
// exists in any form, including a dangling symlink.
func claim(target string) (bool, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("claim %q: %w", target, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target) //nolint:errcheck
		return false, fmt.Errorf("claim %q: %w", target, err)
	}
	return true, nil
}

func (f format) ext() string {
	if f == formatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// isOpaque reports whether every pixel of img is fully opaque.
func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
