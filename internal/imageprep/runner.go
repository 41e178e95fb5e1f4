package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// converterTimeout bounds one external HEIC conversion.
const converterTimeout = 30 * time.Second

// Runner executes an external converter. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// converterArgs returns the command line that turns in (HEIC) into out (PNG).
func converterArgs(converter, in, out string) (string, []string, error) {
	switch converter {
	case "heif-convert":
		return "heif-convert", []string{in, out}, nil
	case "magick":
		return "magick", []string{in, out}, nil
	case "sips":
		return "sips", []string{"-s", "format", "png", in, "--out", out}, nil
	}
	return "", nil, fmt.Errorf("unknown HEIC converter %q (want heif-convert, magick or sips)", converter)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, converterTimeout)
	defer cancel()
	start := time.Now()

	var errb bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &errb
	err := cmd.Run()

	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("image.exec.failed",
			"cmd", name,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		logger.Debug("image.exec.ok", "cmd", name, "elapsed_ms", time.Since(start).Milliseconds())
	}
	return errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
