package imageprep

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"testing"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
)

// createTestImage creates an opaque gradient of the given size.
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8((x + y) % 256)
			img.Pix[i+1] = uint8((x * 2) % 256)
			img.Pix[i+2] = uint8((y * 2) % 256)
			img.Pix[i+3] = 255
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode prepared image: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("prepared format = %q, want jpeg", format)
	}
	return img
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestPrepareKeepsSmallImage(t *testing.T) {
	n := NewNormalizer(Config{MaxDimension: 1024}, testLogger())

	p, err := n.Prepare(context.Background(), Upload{Data: encodeJPEG(t, createTestImage(800, 600))})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.Resized {
		t.Errorf("image within bounds should not be resized")
	}
	if p.Width != 800 || p.Height != 600 {
		t.Errorf("prepared size = %dx%d, want 800x600", p.Width, p.Height)
	}
	b := decodeJPEG(t, p.Data).Bounds()
	if b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("encoded size = %dx%d, want 800x600", b.Dx(), b.Dy())
	}
	if p.MediaType != "image/jpeg" {
		t.Errorf("media type = %q", p.MediaType)
	}
}

func TestPrepareDownscalesLongestEdge(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim        int
		wantW, wantH  int
	}{
		{"landscape", 2000, 1500, 512, 512, 384},
		{"portrait", 1000, 3000, 512, 171, 512},
		{"square", 1200, 1200, 600, 600, 600},
		{"exactly at bound", 512, 300, 512, 512, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(Config{MaxDimension: tt.maxDim}, testLogger())
			p, err := n.Prepare(context.Background(), Upload{Data: encodeJPEG(t, createTestImage(tt.width, tt.height))})
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			b := decodeJPEG(t, p.Data).Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Fatalf("encoded size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
			if max(b.Dx(), b.Dy()) > tt.maxDim {
				t.Errorf("longest edge %d exceeds %d", max(b.Dx(), b.Dy()), tt.maxDim)
			}

			// aspect ratio preserved within rounding
			expectedH := int(float64(tt.height) * float64(b.Dx()) / float64(tt.width))
			if abs(b.Dy()-expectedH) > 1 {
				t.Errorf("aspect ratio not preserved: got %dx%d from %dx%d", b.Dx(), b.Dy(), tt.width, tt.height)
			}
			if p.OriginalWidth != tt.width || p.OriginalHeight != tt.height {
				t.Errorf("original = %dx%d", p.OriginalWidth, p.OriginalHeight)
			}
		})
	}
}

func TestPrepareFlattensTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	// left half opaque red, right half fully transparent
	for y := 0; y < 64; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}

	n := NewNormalizer(Config{}, testLogger())
	p, err := n.Prepare(context.Background(), Upload{Data: encodePNG(t, img), ContentType: "image/png"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.SourceFormat != "png" {
		t.Errorf("source format = %q, want png", p.SourceFormat)
	}

	out := decodeJPEG(t, p.Data)
	r, g, b, _ := out.At(56, 32).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("transparent area should become white, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
	r, g, _, _ = out.At(8, 32).RGBA()
	if r>>8 < 200 || g>>8 > 60 {
		t.Errorf("opaque area should stay red, got r=%d g=%d", r>>8, g>>8)
	}
}

func TestPreparePalettedGIF(t *testing.T) {
	pal := color.Palette{color.Black, color.White, color.RGBA{B: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, 40, 20), pal)
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 3)
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	p, err := NewNormalizer(Config{}, testLogger()).Prepare(context.Background(), Upload{Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.Width != 40 || p.Height != 20 || p.SourceFormat != "gif" {
		t.Errorf("got %dx%d %s", p.Width, p.Height, p.SourceFormat)
	}
}

func TestPrepareRejectsUndecodableInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}},
	}
	n := NewNormalizer(Config{}, testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Prepare(context.Background(), Upload{Data: tt.data})
			if !errors.Is(err, common.ErrImageDecode) {
				t.Fatalf("err = %v, want image decode error", err)
			}
		})
	}
}

func TestPrepareDoesNotMutateUpload(t *testing.T) {
	data := encodeJPEG(t, createTestImage(600, 300))
	orig := append([]byte(nil), data...)

	if _, err := NewNormalizer(Config{MaxDimension: 100}, testLogger()).Prepare(context.Background(), Upload{Data: data}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !bytes.Equal(data, orig) {
		t.Fatal("upload bytes were modified")
	}
}

type fakeRunner struct {
	calls []string
	png   []byte
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return []byte("boom"), f.err
	}
	// the converters take the output path last
	if err := os.WriteFile(args[len(args)-1], f.png, 0o600); err != nil {
		return nil, err
	}
	return nil, nil
}

func heicHeader() []byte {
	return append([]byte{0, 0, 0, 24}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
}

func TestPrepareConvertsHEIC(t *testing.T) {
	r := &fakeRunner{png: encodePNG(t, createTestImage(300, 200))}
	n := NewNormalizer(Config{HeicConverter: "magick"}, testLogger()).WithRunner(r)

	p, err := n.Prepare(context.Background(), Upload{Data: heicHeader(), Filename: "car.heic"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0] != "magick" {
		t.Errorf("runner calls = %v", r.calls)
	}
	if p.Width != 300 || p.Height != 200 {
		t.Errorf("prepared size = %dx%d", p.Width, p.Height)
	}
}

func TestPrepareHEICFailures(t *testing.T) {
	t.Run("converter disabled", func(t *testing.T) {
		r := &fakeRunner{}
		n := NewNormalizer(Config{HeicConverter: "none"}, testLogger()).WithRunner(r)
		_, err := n.Prepare(context.Background(), Upload{Data: heicHeader()})
		if !errors.Is(err, common.ErrImageDecode) {
			t.Fatalf("err = %v, want image decode error", err)
		}
		if len(r.calls) != 0 {
			t.Errorf("runner should not be called")
		}
	})
	t.Run("converter fails", func(t *testing.T) {
		r := &fakeRunner{err: errors.New("exit status 1")}
		n := NewNormalizer(Config{HeicConverter: "sips"}, testLogger()).WithRunner(r)
		_, err := n.Prepare(context.Background(), Upload{Data: heicHeader()})
		if !errors.Is(err, common.ErrImageDecode) {
			t.Fatalf("err = %v, want image decode error", err)
		}
	})
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
		wantResized  bool
	}{
		{4000, 3000, 2048, 2048, 1536, true},
		{3000, 4000, 2048, 1536, 2048, true},
		{2048, 2048, 2048, 2048, 2048, false},
		{100, 50, 2048, 100, 50, false},
		{10000, 1, 100, 100, 1, true},
	}
	for _, tt := range tests {
		w, h, resized := ScaledSize(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH || resized != tt.wantResized {
			t.Errorf("ScaledSize(%d,%d,%d) = %d,%d,%v; want %d,%d,%v",
				tt.w, tt.h, tt.max, w, h, resized, tt.wantW, tt.wantH, tt.wantResized)
		}
	}
}

func TestApplyOrientation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker) // top-left

	tests := []struct {
		orientation  int
		wantW, wantH int
		wantX, wantY int
	}{
		{1, 3, 2, 0, 0},
		{2, 3, 2, 2, 0},
		{3, 3, 2, 2, 1},
		{4, 3, 2, 0, 1},
		{5, 2, 3, 0, 0},
		{6, 2, 3, 1, 0},
		{7, 2, 3, 1, 2},
		{8, 2, 3, 0, 2},
	}
	for _, tt := range tests {
		out := applyOrientation(src, tt.orientation)
		b := out.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("orientation %d: size %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			continue
		}
		if r, _, _, _ := out.At(tt.wantX, tt.wantY).RGBA(); r>>8 != 255 {
			t.Errorf("orientation %d: marker not at (%d,%d)", tt.orientation, tt.wantX, tt.wantY)
		}
	}
}

func TestIsHEIF(t *testing.T) {
	if !isHEIF(heicHeader()) {
		t.Error("heic header not detected")
	}
	if isHEIF([]byte("\x00\x00\x00\x18ftypisom")) {
		t.Error("mp4 brand detected as heif")
	}
	if isHEIF([]byte{0xFF, 0xD8}) {
		t.Error("short jpeg detected as heif")
	}
}

func TestConverterArgs(t *testing.T) {
	tests := []struct {
		converter string
		wantName  string
		wantLast  string
	}{
		{"magick", "magick", "out.png"},
		{"heif-convert", "heif-convert", "out.png"},
		{"sips", "sips", "out.png"},
	}
	for _, tt := range tests {
		name, args, err := converterArgs(tt.converter, "in.heic", "out.png")
		if err != nil {
			t.Fatalf("%s: %v", tt.converter, err)
		}
		if name != tt.wantName || args[len(args)-1] != tt.wantLast {
			t.Errorf("%s: got %s %v", tt.converter, name, args)
		}
	}
	if _, _, err := converterArgs("ffmpeg", "in.heic", "out.png"); err == nil {
		t.Error("unknown converter should fail")
	}
}
