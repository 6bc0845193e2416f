// ABOUTME: Filesystem image store holding a preview and an original variant per attachment
// ABOUTME: Files are written atomically and named from fresh attachment identities

package blobstore

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/imaging"
)

var (
	// ErrEncodePreview means not even the preview variant could be produced
	ErrEncodePreview = errors.New("encoding preview image")
	// ErrInvalidName rejects file references that would escape the store directory
	ErrInvalidName = errors.New("invalid blob file name")
)

// Encoder turns an image into file bytes at the given quality in [0, 1]
type Encoder interface {
	Encode(img image.Image, quality float64) ([]byte, error)
}

type jpegEncoder struct{}

func (jpegEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	return imaging.EncodeJPEG(img, quality)
}

// Option configures a Store
type Option func(*Store)

// WithEncoder replaces the JPEG encoder
func WithEncoder(enc Encoder) Option {
	return func(s *Store) { s.encoder = enc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store persists attachment images under a single directory
type Store struct {
	dir     string
	encoder Encoder
	logger  *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:     dir,
		encoder: jpegEncoder{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "blobstore")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return s, nil
}

// Dir returns the directory holding the blobs
func (s *Store) Dir() string {
	return s.dir
}

// Save stores a preview scaled to maxDimension and an original scaled to
// twice that (within [1024, 2048]). A failed original degrades to preview-only.
func (s *Store) Save(img image.Image, maxDimension int, quality float64) (conversation.Attachment, error) {
	if img == nil {
		return conversation.Attachment{}, fmt.Errorf("%w: nil image", ErrEncodePreview)
	}

	previewQuality := imaging.Clamp(quality, 0.4, 0.95)
	previewData, err := s.encoder.Encode(imaging.Fit(img, maxDimension), previewQuality)
	if err != nil {
		s.logger.Error("failed to encode preview image", "error", err)
		return conversation.Attachment{}, fmt.Errorf("%w: %v", ErrEncodePreview, err)
	}

	id := uuid.New().String()
	att := conversation.Attachment{
		ID:       id,
		FileName: id + "-preview.jpg",
	}
	if err := s.write(att.FileName, previewData); err != nil {
		s.logger.Error("failed to save preview image", "error", err)
		return conversation.Attachment{}, err
	}

	originalDimension := imaging.Clamp(maxDimension*2, 1024, 2048)
	originalQuality := imaging.Clamp(quality+0.1, 0.7, 0.95)
	originalData, err := s.encoder.Encode(imaging.Fit(img, originalDimension), originalQuality)
	if err != nil {
		s.logger.Warn("failed to encode original image, keeping preview only", "error", err)
		return att, nil
	}

	originalName := id + "-original.jpg"
	if err := s.write(originalName, originalData); err != nil {
		s.logger.Warn("failed to save original image, keeping preview only", "error", err)
		return att, nil
	}
	att.OriginalFileName = originalName

	s.logger.Debug("attachment saved", "id", id, "preview_bytes", len(previewData), "original_bytes", len(originalData))
	return att, nil
}

// LoadPreview decodes the preview variant
func (s *Store) LoadPreview(att conversation.Attachment) (image.Image, error) {
	return s.load(att.FileName)
}

// LoadOriginal decodes the original variant, falling back to the preview
func (s *Store) LoadOriginal(att conversation.Attachment) (image.Image, error) {
	if att.OriginalFileName != "" {
		img, err := s.load(att.OriginalFileName)
		if err == nil {
			return img, nil
		}
		s.logger.Debug("original unavailable, using preview", "id", att.ID, "error", err)
	}
	return s.LoadPreview(att)
}

// Path resolves a stored file name to its location on disk
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Delete removes the de-duplicated union of files referenced by atts.
// Missing files are ignored.
func (s *Store) Delete(atts []conversation.Attachment) {
	seen := make(map[string]struct{})
	for _, a := range atts {
		for _, name := range a.FileNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}

			path, err := s.Path(name)
			if err != nil {
				s.logger.Warn("skipping blob", "error", err)
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to delete blob", "file", name, "error", err)
			}
		}
	}
	if len(seen) > 0 {
		s.logger.Debug("blobs deleted", "count", len(seen))
	}
}

func (s *Store) write(name string, data []byte) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (s *Store) load(name string) (image.Image, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	return imaging.Decode(f)
}
