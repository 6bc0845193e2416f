// ABOUTME: Frame source backed by an image file that a camera process keeps replacing
// ABOUTME: Watches the file's directory and decodes each new version as the latest frame

package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/live-companion/internal/imaging"
)

// FileSource publishes the most recent decodable version of one image file
type FileSource struct {
	path    string
	logger  *slog.Logger
	onFrame func(image.Image)

	mu     sync.RWMutex
	latest image.Image
}

// NewFileSource creates a source for path. onFrame, if set, is called with
// every newly decoded frame.
func NewFileSource(path string, onFrame func(image.Image), logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:    filepath.Clean(path),
		logger:  logger.With("component", "capture"),
		onFrame: onFrame,
	}
}

// Latest returns the most recent frame, or nil
func (s *FileSource) Latest() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Ready reports whether a frame has been decoded
func (s *FileSource) Ready() bool {
	return s.Latest() != nil
}

// Refresh decodes the file now
func (s *FileSource) Refresh() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	s.mu.Lock()
	s.latest = img
	s.mu.Unlock()

	if s.onFrame != nil {
		s.onFrame(img)
	}
	return nil
}

// Run watches for new versions of the file until ctx is cancelled
func (s *FileSource) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// writers usually replace the file by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	if err := s.Refresh(); err != nil {
		s.logger.Debug("no initial frame", "path", s.path, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.Refresh(); err != nil {
				// partial writes decode badly; the next event retries
				s.logger.Debug("frame not readable yet", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("frame watcher error", "error", err)
		}
	}
}
