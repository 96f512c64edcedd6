package tile

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/nfnt/resize"
)

// Limits holds the per-tile constraints published for Garmin Custom
// Maps. The zero value is not usable; start from DefaultLimits.
type Limits struct {
	MaxPixels int // decoded pixel count ceiling per tile
	MaxBytes  int // encoded JPEG size ceiling per tile
	Quality   int // fixed JPEG quality
	FloorSide int // shrink loop stops once the area drops to FloorSide^2
}

// DefaultLimits returns the device contract: at most one megapixel and
// 3 MiB per tile, JPEG quality 75, with a 64x64 termination floor.
func DefaultLimits() Limits {
	return Limits{
		MaxPixels: 1_000_000,
		MaxBytes:  3 << 20,
		Quality:   75,
		FloorSide: 64,
	}
}

// Side returns the nominal tile edge length implied by the pixel
// ceiling: a square tile of Side x Side pixels sits just under
// MaxPixels.
func (l Limits) Side() int {
	return int(math.Ceil(math.Sqrt(float64(l.MaxPixels))))
}

// Crop copies the region r of src into a fresh image anchored at the
// origin, so downstream resizes and encodes never alias the source.
func Crop(src *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Enforce encodes img as a JPEG honouring the limits. The image is
// first resized once so its pixel count fits MaxPixels (never
// upscaled), then re-encoded with both edges shrunk by 0.9 until the
// payload fits MaxBytes or the area reaches the floor. The floor keeps
// the loop terminating on pathological content, at the cost of
// possibly exceeding the byte ceiling there.
//
// image/jpeg only emits baseline (non-progressive) scans, which is
// what constrained device decoders require.
func (l Limits) Enforce(img image.Image) ([]byte, error) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	if w*h > l.MaxPixels {
		s := math.Sqrt(float64(l.MaxPixels) / float64(w*h))
		if s < 1 {
			w = max(1, int(float64(w)*s))
			h = max(1, int(float64(h)*s))
			img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
		}
	}

	data, err := encodeJPEG(img, l.Quality)
	if err != nil {
		return nil, err
	}

	floor := l.FloorSide * l.FloorSide
	for len(data) > l.MaxBytes && w*h > floor {
		w = max(1, int(float64(w)*0.9))
		h = max(1, int(float64(h)*0.9))
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
		if data, err = encodeJPEG(img, l.Quality); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
