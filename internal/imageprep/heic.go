package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// heifBrands are the ftyp major brands used by HEIC/HEIF stills and sequences.
var heifBrands = map[string]struct{}{
	"heic": {}, "heix": {}, "hevc": {}, "hevx": {},
	"heim": {}, "heis": {}, "mif1": {}, "msf1": {},
}

// isHEIF sniffs the ISO-BMFF ftyp box at the start of data.
func isHEIF(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	_, ok := heifBrands[string(data[8:12])]
	return ok
}

// convertHEICtoPNG runs the external converter on a temp copy of data and returns the PNG bytes.
func convertHEICtoPNG(ctx context.Context, r Runner, logger *slog.Logger, converter string, data []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "carlens-heic-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Warn("image.heic.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "upload.heic")
	out := filepath.Join(tmpDir, "upload.png")
	name, args, err := converterArgs(converter, in, out)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}
	if errb, err := r.Run(ctx, name, args...); err != nil {
		return nil, fmt.Errorf("%s failed: %w (%s)", name, err, truncate(string(errb), 512))
	}

	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}
	logger.Debug("image.heic.converted", "converter", converter, "in_bytes", len(data), "out_bytes", len(png))
	return png, nil
}
