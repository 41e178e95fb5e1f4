// Package imageprep turns an arbitrary uploaded image into a bounded, opaque JPEG
// suitable for inline transmission to a vision model.
package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"time"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/car-analyzer/constants"
	"github.com/joseph-ayodele/car-analyzer/internal/common"
)

// maxPixels rejects decompression bombs before allocating the full frame.
const maxPixels = 100_000_000

// Config for the Normalizer.
type Config struct {
	MaxDimension  int    // longest edge after preparation; default 2048
	JPEGQuality   int    // 1..100; default 85
	HeicConverter string // magick | heif-convert | sips | none
}

// Upload is the raw image as received from the user. It is never modified.
type Upload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Prepared is the normalized payload sent upstream.
type Prepared struct {
	Data           []byte
	MediaType      string
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	Resized        bool
	SourceFormat   string
	Orientation    int
}

// SizeKB is the encoded size in kilobytes, as shown next to the preview.
func (p *Prepared) SizeKB() float64 {
	return float64(len(p.Data)) / 1024
}

type Normalizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewNormalizer(cfg Config, logger *slog.Logger) *Normalizer {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = constants.DefaultMaxDimension
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = constants.DefaultJPEGQuality
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "none"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the external command runner used for HEIC conversion.
func (n *Normalizer) WithRunner(r Runner) *Normalizer {
	n.runner = r
	return n
}

// Config returns the effective configuration after defaults.
func (n *Normalizer) Config() Config {
	return n.cfg
}

// Prepare decodes up, applies EXIF orientation, flattens it onto an opaque canvas,
// downscales it when the longest edge exceeds MaxDimension and re-encodes it as JPEG.
// Errors match common.ErrImageDecode when the upload is not a readable image.
func (n *Normalizer) Prepare(ctx context.Context, up Upload) (*Prepared, error) {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, n.logger)

	if len(up.Data) == 0 {
		return nil, common.NewAppError(common.CodeImageDecode, "empty upload", nil)
	}

	data := up.Data
	if isHEIF(data) {
		if n.cfg.HeicConverter == "none" {
			return nil, common.NewAppError(common.CodeImageDecode, "HEIC/HEIF uploads are not supported", nil)
		}
		converted, err := convertHEICtoPNG(ctx, n.runner, logger, n.cfg.HeicConverter, data)
		if err != nil {
			return nil, common.NewAppError(common.CodeImageDecode, "convert HEIC", err)
		}
		data = converted
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewAppError(common.CodeImageDecode, "decode image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, common.NewAppError(common.CodeImageDecode, "image has no pixels", nil)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, common.NewAppError(common.CodeImageDecode,
			fmt.Sprintf("image too large: %dx%d", cfg.Width, cfg.Height), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewAppError(common.CodeImageDecode, "decode image", err)
	}

	orientation := 1
	if format == "jpeg" || format == "tiff" {
		orientation = exifOrientation(data)
	}
	img = applyOrientation(img, orientation)

	ob := img.Bounds()
	flat := flatten(img)

	w, h, resized := ScaledSize(ob.Dx(), ob.Dy(), n.cfg.MaxDimension)
	var out image.Image = flat
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), flat, flat.Bounds(), draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: n.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	p := &Prepared{
		Data:           buf.Bytes(),
		MediaType:      constants.MediaTypeJPEG,
		Width:          w,
		Height:         h,
		OriginalWidth:  ob.Dx(),
		OriginalHeight: ob.Dy(),
		Resized:        resized,
		SourceFormat:   format,
		Orientation:    orientation,
	}

	logger.Info("image.prepare.ok",
		"req_id", common.RequestIDFromContext(ctx),
		"format", format,
		"in_bytes", len(up.Data),
		"out_bytes", len(p.Data),
		"original", fmt.Sprintf("%dx%d", p.OriginalWidth, p.OriginalHeight),
		"prepared", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"resized", resized,
		"orientation", orientation,
		"quality", n.cfg.JPEGQuality,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return p, nil
}

// ScaledSize returns the dimensions of a w×h image bounded by maxDim on its longest edge.
// Images already within the bound keep their size; the longest edge of a shrunk image
// equals maxDim exactly and the other edge is rounded, never below 1.
func ScaledSize(w, h, maxDim int) (int, int, bool) {
	if w <= maxDim && h <= maxDim {
		return w, h, false
	}
	if w >= h {
		nh := int(math.Round(float64(h) * float64(maxDim) / float64(w)))
		return maxDim, max(nh, 1), true
	}
	nw := int(math.Round(float64(w) * float64(maxDim) / float64(h)))
	return max(nw, 1), maxDim, true
}

// flatten draws img over an opaque white canvas so that alpha, palette, CMYK and
// 16-bit sources all end up as 8-bit RGB that JPEG can carry.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
