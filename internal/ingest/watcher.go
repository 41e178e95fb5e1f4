package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/car-analyzer/constants"
)

type WatchConfig struct {
	Roots      []string      // directories to watch (recursive)
	SkipHidden bool          // ignore dot files and dot directories
	Debounce   time.Duration // coalesce rapid create/write bursts; default 500ms
}

// StartWatcher emits paths of supported images created or rewritten under the roots
// until ctx is done. Both channels are closed when the watcher stops.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() {
				return nil
			}
			if cfg.SkipHidden && path != root && isHidden(path) {
				return filepath.SkipDir
			}
			return w.Add(path)
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)
	ready := make(chan string, 256)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watch.close_error", "error", err)
			}
		}()

		pending := map[string]*time.Timer{}
		for {
			select {
			case <-ctx.Done():
				for _, t := range pending {
					t.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if cfg.SkipHidden && isHidden(e.Name) {
					continue
				}
				if e.Op&fsnotify.Create == fsnotify.Create {
					if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
						if err := addDir(e.Name); err != nil {
							logger.Warn("ingest.watch.add_dir_failed", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if e.Op&(fsnotify.Create|fsnotify.Write) == 0 || !constants.AllowedExt(filepath.Ext(e.Name)) {
					continue
				}
				// a file is emitted once writes to it have been quiet for Debounce
				name := e.Name
				if t, ok := pending[name]; ok {
					t.Reset(cfg.Debounce)
					continue
				}
				pending[name] = time.AfterFunc(cfg.Debounce, func() {
					select {
					case ready <- name:
					case <-ctx.Done():
					}
				})
			case name := <-ready:
				delete(pending, name)
				select {
				case evCh <- name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch analyzes every image StartWatcher reports, one at a time, and passes each
// result to sink until ctx is done.
func (u *Usecase) Watch(ctx context.Context, cfg WatchConfig, sink func(FileResult)) error {
	if err := u.analyzer.Ready(); err != nil {
		return err
	}
	paths, errs, err := StartWatcher(ctx, cfg, u.logger)
	if err != nil {
		return err
	}
	u.logger.Info("ingest.watch.start", "roots", cfg.Roots)
	for {
		select {
		case p, ok := <-paths:
			if !ok {
				return ctx.Err()
			}
			sink(u.analyzePath(ctx, p))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			u.logger.Warn("ingest.watch.degraded", "error", err)
		}
	}
}
