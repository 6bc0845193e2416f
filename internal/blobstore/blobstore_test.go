// ABOUTME: Tests for the attachment blob store
// ABOUTME: Covers both variants, degraded originals, fallback loads, and de-duplicated deletes

package blobstore

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/imaging"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

type call struct {
	w, h    int
	quality float64
}

// scriptedEncoder fails on the calls listed in failOn (1-based)
type scriptedEncoder struct {
	mu     sync.Mutex
	calls  []call
	failOn map[int]bool
}

func (e *scriptedEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, call{img.Bounds().Dx(), img.Bounds().Dy(), quality})
	n := len(e.calls)
	e.mu.Unlock()
	if e.failOn[n] {
		return nil, errors.New("encoder exploded")
	}
	return imaging.EncodeJPEG(img, quality)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ConversationImages"), opts...)
	require.NoError(t, err)
	return s
}

func TestSave_WritesBothVariants(t *testing.T) {
	enc := &scriptedEncoder{}
	s := newTestStore(t, WithEncoder(enc))

	att, err := s.Save(testImage(3000, 1500), 768, 0.8)
	require.NoError(t, err)

	assert.Equal(t, att.ID+"-preview.jpg", att.FileName)
	assert.Equal(t, att.ID+"-original.jpg", att.OriginalFileName)
	assert.FileExists(t, filepath.Join(s.Dir(), att.FileName))
	assert.FileExists(t, filepath.Join(s.Dir(), att.OriginalFileName))

	require.Len(t, enc.calls, 2)
	assert.Equal(t, 768, enc.calls[0].w)
	assert.InDelta(t, 0.8, enc.calls[0].quality, 1e-9)
	assert.Equal(t, 1536, enc.calls[1].w)
	assert.InDelta(t, 0.9, enc.calls[1].quality, 1e-9)
}

func TestSave_QualityAndDimensionClamps(t *testing.T) {
	enc := &scriptedEncoder{}
	s := newTestStore(t, WithEncoder(enc))

	_, err := s.Save(testImage(5000, 100), 256, 0.1)
	require.NoError(t, err)
	require.Len(t, enc.calls, 2)
	assert.InDelta(t, 0.4, enc.calls[0].quality, 1e-9)
	assert.Equal(t, 1024, enc.calls[1].w)
	assert.InDelta(t, 0.7, enc.calls[1].quality, 1e-9)

	enc.calls = nil
	_, err = s.Save(testImage(5000, 100), 1600, 0.99)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, enc.calls[0].quality, 1e-9)
	assert.Equal(t, 2048, enc.calls[1].w)
	assert.InDelta(t, 0.95, enc.calls[1].quality, 1e-9)
}

func TestSave_OriginalFailureDegradesToPreview(t *testing.T) {
	s := newTestStore(t, WithEncoder(&scriptedEncoder{failOn: map[int]bool{2: true}}))

	att, err := s.Save(testImage(100, 100), 768, 0.8)
	require.NoError(t, err)
	assert.Empty(t, att.OriginalFileName)
	assert.FileExists(t, filepath.Join(s.Dir(), att.FileName))
}

func TestSave_PreviewFailureIsHard(t *testing.T) {
	s := newTestStore(t, WithEncoder(&scriptedEncoder{failOn: map[int]bool{1: true}}))

	_, err := s.Save(testImage(100, 100), 768, 0.8)
	assert.ErrorIs(t, err, ErrEncodePreview)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadOriginal_FallsBackToPreview(t *testing.T) {
	s := newTestStore(t)

	att, err := s.Save(testImage(2000, 1000), 512, 0.8)
	require.NoError(t, err)

	orig, err := s.LoadOriginal(att)
	require.NoError(t, err)
	assert.Equal(t, 1024, orig.Bounds().Dx())

	require.NoError(t, os.Remove(filepath.Join(s.Dir(), att.OriginalFileName)))
	fallback, err := s.LoadOriginal(att)
	require.NoError(t, err)
	assert.Equal(t, 512, fallback.Bounds().Dx())

	previewOnly := conversation.Attachment{ID: att.ID, FileName: att.FileName}
	img, err := s.LoadOriginal(previewOnly)
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestDelete_UnionIgnoringMissing(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Save(testImage(64, 64), 512, 0.8)
	require.NoError(t, err)
	b, err := s.Save(testImage(64, 64), 512, 0.8)
	require.NoError(t, err)
	keep, err := s.Save(testImage(64, 64), 512, 0.8)
	require.NoError(t, err)

	ghost := conversation.Attachment{ID: "ghost", FileName: "ghost-preview.jpg"}
	s.Delete([]conversation.Attachment{a, a, b, ghost})

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, keep.FileNames(), names)
}

func TestPath_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../x.jpg", "a/b.jpg", ".."} {
		_, err := s.Path(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	outside := filepath.Join(filepath.Dir(s.Dir()), "secret.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	s.Delete([]conversation.Attachment{{FileName: "../secret.jpg"}})
	assert.FileExists(t, outside)
}
