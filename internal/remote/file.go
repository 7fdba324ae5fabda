package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rafaeljc/heimdall-local/internal/coordinator"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// FileFetcher reads definitions from a JSON document on disk. The document is
// validated against the definitions schema before it is decoded.
type FileFetcher struct {
	logger *slog.Logger
	path   string

	mu   sync.Mutex
	last []byte
}

// NewFileFetcher creates a fetcher for path.
func NewFileFetcher(logger *slog.Logger, path string) *FileFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileFetcher{logger: logger, path: path}
}

// Fetch implements coordinator.Fetcher. Unchanged content is reported as NotModified.
func (f *FileFetcher) Fetch(ctx context.Context) (*coordinator.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}

	f.mu.Lock()
	unchanged := f.last != nil && bytes.Equal(f.last, data)
	f.mu.Unlock()
	if unchanged {
		return &coordinator.FetchResult{NotModified: true}, nil
	}

	if err := flagdef.ValidateDocument(data); err != nil {
		return nil, fmt.Errorf("definitions file %s: %w", f.path, err)
	}
	snapshot, err := flagdef.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("definitions file %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.last = data
	f.mu.Unlock()

	return &coordinator.FetchResult{Snapshot: snapshot}, nil
}

// Watch calls onChange whenever the file is written, created or replaced,
// until ctx is cancelled. The parent directory is watched so that editors
// that save through a rename are noticed.
func (f *FileFetcher) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(f.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	f.logger.Info("watching definitions file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				f.logger.Debug("definitions file changed", slog.String("op", event.Op.String()))
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("definitions file watcher error", slog.Any("error", err))
		}
	}
}
