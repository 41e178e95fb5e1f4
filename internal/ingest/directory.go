package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/car-analyzer/constants"
	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

type Usecase struct {
	analyzer Analyzer
	maxBytes int64
	logger   *slog.Logger
}

func NewUsecase(a Analyzer, maxBytes int64, logger *slog.Logger) *Usecase {
	if maxBytes <= 0 {
		maxBytes = constants.DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Usecase{analyzer: a, maxBytes: maxBytes, logger: logger}
}

// AnalyzeFile reads one image from disk and analyzes it.
func (u *Usecase) AnalyzeFile(ctx context.Context, path string) (*pipeline.Analysis, error) {
	if !constants.AllowedExt(filepath.Ext(path)) {
		return nil, common.NewAppError(common.CodeInvalidInput,
			fmt.Sprintf("unsupported extension %q", filepath.Ext(path)), nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.NewAppError(common.CodeInvalidInput, "stat file", err)
	}
	if info.IsDir() {
		return nil, common.NewAppError(common.CodeInvalidInput, path+" is a directory", nil)
	}
	if info.Size() > u.maxBytes {
		return nil, common.NewAppError(common.CodeInvalidInput,
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), u.maxBytes), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewAppError(common.CodeInvalidInput, "read file", err)
	}

	return u.analyzer.Analyze(ctx, imageprep.Upload{
		Data:        data,
		ContentType: http.DetectContentType(data),
		Filename:    filepath.Base(path),
	})
}

// AnalyzeDirectory walks root, skips hidden entries if requested and analyzes each
// supported image sequentially. Per-file failures become results; a configuration
// error aborts before the walk and cancellation stops it.
func (u *Usecase) AnalyzeDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewAppError(common.CodeInvalidInput, "root path is required", nil)
	}
	if err := u.analyzer.Ready(); err != nil {
		return nil, DirStats{}, err
	}

	start := time.Now()
	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr, At: time.Now()})
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		res := u.analyzePath(ctx, path)
		results = append(results, res)
		if res.Err != nil {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		return nil
	})

	u.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return results, stats, err
		}
		return results, stats, common.WrapError(err, "walk "+root)
	}
	return results, stats, nil
}

func (u *Usecase) analyzePath(ctx context.Context, path string) FileResult {
	a, err := u.AnalyzeFile(ctx, path)
	if err != nil {
		u.logger.Warn("ingest.file.failed", "path", path, "error", err)
	}
	return FileResult{Path: path, Analysis: a, Err: err, At: time.Now()}
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
