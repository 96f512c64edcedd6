package raster

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Buffer is a planar bands x height x width sample array decoded from
// a source raster. Samples are stored as float64 so 8- and 16-bit (or
// wider) sources share one representation; EightBit records whether
// every sample already sits in [0, 255] and can skip the contrast
// stretch.
type Buffer struct {
	Bands    int
	Width    int
	Height   int
	EightBit bool

	data []float64
}

// NewBuffer allocates a zeroed sample buffer.
func NewBuffer(bands, width, height int) *Buffer {
	return &Buffer{
		Bands:  bands,
		Width:  width,
		Height: height,
		data:   make([]float64, bands*width*height),
	}
}

// At returns the sample for band b at pixel (x, y).
func (buf *Buffer) At(b, y, x int) float64 {
	return buf.data[(b*buf.Height+y)*buf.Width+x]
}

// Set stores the sample for band b at pixel (x, y).
func (buf *Buffer) Set(b, y, x int, v float64) {
	buf.data[(b*buf.Height+y)*buf.Width+x] = v
}

// Resample returns an area-averaged copy of the buffer at the
// requested size, matching GDAL's "average" kernel: each destination
// sample is the mean of the source pixels its footprint covers, with
// partially covered edge pixels weighted by overlap. Requesting the
// current size returns the receiver unchanged.
func (buf *Buffer) Resample(width, height int) (*Buffer, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("raster: invalid resample size %dx%d", width, height)
	}
	if width == buf.Width && height == buf.Height {
		return buf, nil
	}

	out := NewBuffer(buf.Bands, width, height)
	out.EightBit = buf.EightBit

	sx := float64(buf.Width) / float64(width)
	sy := float64(buf.Height) / float64(height)

	for b := 0; b < buf.Bands; b++ {
		for y := 0; y < height; y++ {
			fy0 := float64(y) * sy
			fy1 := float64(y+1) * sy
			iy0, iy1 := clampRange(fy0, fy1, buf.Height)
			for x := 0; x < width; x++ {
				fx0 := float64(x) * sx
				fx1 := float64(x+1) * sx
				ix0, ix1 := clampRange(fx0, fx1, buf.Width)

				var sum, weight float64
				for yy := iy0; yy < iy1; yy++ {
					wy := overlap(fy0, fy1, yy)
					for xx := ix0; xx < ix1; xx++ {
						w := wy * overlap(fx0, fx1, xx)
						sum += buf.At(b, yy, xx) * w
						weight += w
					}
				}
				if weight > 0 {
					out.Set(b, y, x, sum/weight)
				}
			}
		}
	}
	return out, nil
}

// clampRange converts a fractional source span into the integer pixel
// range that intersects it.
func clampRange(f0, f1 float64, n int) (int, int) {
	i0 := int(f0)
	i1 := int(f1)
	if float64(i1) < f1 {
		i1++
	}
	if i1 > n {
		i1 = n
	}
	return i0, i1
}

// overlap returns how much of source pixel i falls inside [f0, f1).
func overlap(f0, f1 float64, i int) float64 {
	lo := f0
	if float64(i) > lo {
		lo = float64(i)
	}
	hi := f1
	if float64(i+1) < hi {
		hi = float64(i + 1)
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Source is a georeferenced raster the exporter can pull pixels from.
// Bounds are geographic WGS84 degrees; reprojection from other
// reference systems is the caller's concern.
type Source interface {
	// Size reports the native pixel dimensions.
	Size() (width, height int)
	// Bounds reports the geographic extent as (west, south, east, north).
	Bounds() orb.Bound
	// Read returns the pixels area-averaged to the requested size.
	Read(width, height int) (*Buffer, error)
}

type memSource struct {
	buf    *Buffer
	bounds orb.Bound
}

// NewSource wraps an in-memory buffer and its geographic extent as a
// Source.
func NewSource(buf *Buffer, bounds orb.Bound) Source {
	return &memSource{buf: buf, bounds: bounds}
}

func (s *memSource) Size() (int, int)  { return s.buf.Width, s.buf.Height }
func (s *memSource) Bounds() orb.Bound { return s.bounds }

func (s *memSource) Read(width, height int) (*Buffer, error) {
	return s.buf.Resample(width, height)
}
