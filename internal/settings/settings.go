// ABOUTME: AI image quality settings persisted through the key-value store
// ABOUTME: Values are clamped to documented bounds whenever they are read back

package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/2389/live-companion/internal/imaging"
	"github.com/2389/live-companion/internal/store"
)

// PreviewResolution selects the live preview stream resolution
type PreviewResolution string

const (
	PreviewLow    PreviewResolution = "low"
	PreviewMedium PreviewResolution = "medium"
	PreviewHigh   PreviewResolution = "high"
)

// Allowed image dimensions sent to the model
var allowedDimensions = []int{512, 768, 1024}

const (
	keyPreviewResolution = "ai.previewResolution"
	keyMaxDimension      = "ai.imageMaxDimension"
	keyImageQuality      = "ai.imageQuality"
	keyKeyFrameCount     = "ai.keyFrameCount"
)

// Quality is a snapshot of the image settings used for one capture
type Quality struct {
	PreviewResolution PreviewResolution
	MaxDimension      int
	ImageQuality      float64
	KeyFrameCount     int
}

// Defaults returns the settings used when nothing is persisted
func Defaults() Quality {
	return Quality{
		PreviewResolution: PreviewLow,
		MaxDimension:      768,
		ImageQuality:      0.8,
		KeyFrameCount:     1,
	}
}

// Normalize applies the same bounds used when reading from persistence
func (q Quality) Normalize() Quality {
	switch q.PreviewResolution {
	case PreviewLow, PreviewMedium, PreviewHigh:
	default:
		q.PreviewResolution = PreviewLow
	}

	valid := false
	for _, d := range allowedDimensions {
		if q.MaxDimension == d {
			valid = true
			break
		}
	}
	if !valid {
		q.MaxDimension = 768
	}

	if q.ImageQuality == 0 || math.IsNaN(q.ImageQuality) {
		q.ImageQuality = 0.8
	} else {
		q.ImageQuality = imaging.Clamp(q.ImageQuality, 0.6, 0.9)
	}

	if q.KeyFrameCount == 0 {
		q.KeyFrameCount = 1
	} else {
		q.KeyFrameCount = imaging.Clamp(q.KeyFrameCount, 1, 3)
	}
	return q
}

// Settings caches the persisted quality settings
type Settings struct {
	mu      sync.RWMutex
	kv      store.KV
	current Quality
	logger  *slog.Logger
}

// Load reads persisted settings, applying bounds
func Load(ctx context.Context, kv store.KV, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{
		kv:     kv,
		logger: logger.With("component", "settings"),
	}
	s.Reload(ctx)
	return s
}

// Current returns the active settings
func (s *Settings) Current() Quality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads persistence. Missing or unparsable values read as zero and
// fall back through Normalize.
func (s *Settings) Reload(ctx context.Context) {
	var q Quality
	q.PreviewResolution = PreviewResolution(s.getString(ctx, keyPreviewResolution))
	q.MaxDimension, _ = strconv.Atoi(s.getString(ctx, keyMaxDimension))
	q.ImageQuality, _ = strconv.ParseFloat(s.getString(ctx, keyImageQuality), 64)
	q.KeyFrameCount, _ = strconv.Atoi(s.getString(ctx, keyKeyFrameCount))

	s.mu.Lock()
	s.current = q.Normalize()
	s.mu.Unlock()
}

// Update persists q after normalizing it
func (s *Settings) Update(ctx context.Context, q Quality) (Quality, error) {
	q = q.Normalize()

	values := map[string]string{
		keyPreviewResolution: string(q.PreviewResolution),
		keyMaxDimension:      strconv.Itoa(q.MaxDimension),
		keyImageQuality:      strconv.FormatFloat(q.ImageQuality, 'f', -1, 64),
		keyKeyFrameCount:     strconv.Itoa(q.KeyFrameCount),
	}
	for k, v := range values {
		if err := s.kv.Set(ctx, k, []byte(v)); err != nil {
			return s.Current(), fmt.Errorf("persisting %s: %w", k, err)
		}
	}

	s.mu.Lock()
	s.current = q
	s.mu.Unlock()
	return q, nil
}

// Set updates a single setting by its persistence key
func (s *Settings) Set(ctx context.Context, key, value string) (Quality, error) {
	q := s.Current()
	var err error
	switch key {
	case keyPreviewResolution, "preview_resolution":
		q.PreviewResolution = PreviewResolution(value)
	case keyMaxDimension, "max_dimension":
		q.MaxDimension, err = strconv.Atoi(value)
	case keyImageQuality, "quality":
		q.ImageQuality, err = strconv.ParseFloat(value, 64)
	case keyKeyFrameCount, "keyframes":
		q.KeyFrameCount, err = strconv.Atoi(value)
	default:
		return q, fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return q, fmt.Errorf("parsing %s: %w", key, err)
	}
	return s.Update(ctx, q)
}

func (s *Settings) getString(ctx context.Context, key string) string {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("reading setting failed", "key", key, "error", err)
		}
		return ""
	}
	return string(v)
}
