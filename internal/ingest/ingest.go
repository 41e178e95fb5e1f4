// Package ingest feeds image files from disk into the analyzer, one at a time.
package ingest

import (
	"context"
	"time"

	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

// Analyzer is the behavior the usecase depends on.
type Analyzer interface {
	Ready() error
	Analyze(ctx context.Context, up imageprep.Upload) (*pipeline.Analysis, error)
}

// FileResult is the per-file outcome. Analysis is set whenever the analyzer ran.
type FileResult struct {
	Path     string
	Analysis *pipeline.Analysis
	Err      error
	At       time.Time
}

// DirStats summarizes a directory run.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}
