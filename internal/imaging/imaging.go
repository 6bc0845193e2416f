// ABOUTME: Image scaling and JPEG encoding shared by the blob store and the realtime transport
// ABOUTME: Scales by longest side and can shrink output until a base64 size budget is met

package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
)

// ErrTooLarge is returned when an image cannot be squeezed under a base64 budget
var ErrTooLarge = errors.New("encoded image exceeds size limit")

// Fit scales img so its longer side is at most maxDim.
// Images already within bounds, or a non-positive maxDim, are returned unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	if img == nil || maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Clamp restricts v to [lo, hi]. NaN clamps to lo.
func Clamp[T int | float64](v, lo, hi T) T {
	if v != v {
		return lo
	}
	return min(max(v, lo), hi)
}

// EncodeJPEG encodes img with quality expressed in [0, 1]
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	q := Clamp(int(math.Round(quality*100)), 1, 100)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a JPEG or PNG image
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// EncodeBase64JPEG scales img to maxDim and returns base64 JPEG data.
// With maxLen > 0 quality is stepped down, then the image shrunk, until the
// payload fits.
func EncodeBase64JPEG(img image.Image, maxDim int, quality float64, maxLen int) (string, error) {
	scaled := Fit(img, maxDim)
	q := quality

	for range 12 {
		data, err := EncodeJPEG(scaled, q)
		if err != nil {
			return "", err
		}
		if maxLen <= 0 || base64.StdEncoding.EncodedLen(len(data)) <= maxLen {
			return base64.StdEncoding.EncodeToString(data), nil
		}

		if q > 0.35 {
			q -= 0.1
			continue
		}
		b := scaled.Bounds()
		next := int(float64(max(b.Dx(), b.Dy())) * 0.8)
		if next < 64 {
			break
		}
		scaled = Fit(scaled, next)
	}
	return "", ErrTooLarge
}
