package tile

import (
	"image"
	"math"

	"github.com/paulmach/orb"
)

// FitScale returns the largest scale factor in (0, 1] such that the
// covering grid ceil(w*scale/side) x ceil(h*scale/side) holds at most
// maxTiles tiles. The tile count is piecewise constant in scale because of
// the ceilings, so there is no closed form; a fixed 40-step bisection
// narrows the interval to well below one source pixel for any
// realistic raster size.
//
// A grid dimension never counts as less than one tile, so the result
// is always feasible even for maxTiles=1, and never collapses to zero.
func FitScale(w, h, side, maxTiles int) float64 {
	lo, hi := 0.0, 1.0
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if tileCount(w, h, side, mid) <= maxTiles {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Max(1e-6, lo)
}

func tileCount(w, h, side int, scale float64) int {
	cols := int(math.Ceil(float64(w) * scale / float64(side)))
	rows := int(math.Ceil(float64(h) * scale / float64(side)))
	return max(1, cols) * max(1, rows)
}

// GridSize returns the covering grid for an image of w x h pixels cut
// into tiles no larger than side on either edge.
func GridSize(w, h, side int) (cols, rows int) {
	cols = max(1, int(math.Ceil(float64(w)/float64(side))))
	rows = max(1, int(math.Ceil(float64(h)/float64(side))))
	return cols, rows
}

// Spec locates one grid cell: its pixel crop within the resampled
// image and the geographic box that crop covers.
type Spec struct {
	Index int // position in raster-scan order, gaps preserved
	Row   int
	Col   int
	Rect  image.Rectangle
	Box   orb.Bound
}

// Cut partitions an imgW x imgH image into a cols x rows covering grid
// and maps each cell onto the overall geographic box by linear
// interpolation. Pixel rows grow southward while latitude grows
// northward, so the Y axis is flipped: row 0 touches the northern edge
// of the box.
//
// Cell sizes come from ceiling division, so the final row or column
// may be smaller than the rest or empty. Empty cells are omitted from
// the result but still consume an index, leaving a gap in the
// sequence.
func Cut(imgW, imgH, cols, rows int, box orb.Bound) []Spec {
	tileW := int(math.Ceil(float64(imgW) / float64(cols)))
	tileH := int(math.Ceil(float64(imgH) / float64(rows)))

	lonSpan := box.Max[0] - box.Min[0]
	latSpan := box.Max[1] - box.Min[1]

	specs := make([]Spec, 0, cols*rows)
	idx := 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x0, y0 := c*tileW, r*tileH
			x1 := min(imgW, x0+tileW)
			y1 := min(imgH, y0+tileH)
			if x0 >= x1 || y0 >= y1 {
				idx++
				continue
			}

			west := box.Min[0] + lonSpan*float64(x0)/float64(imgW)
			east := box.Min[0] + lonSpan*float64(x1)/float64(imgW)
			north := box.Max[1] - latSpan*float64(y0)/float64(imgH)
			south := box.Max[1] - latSpan*float64(y1)/float64(imgH)

			specs = append(specs, Spec{
				Index: idx,
				Row:   r,
				Col:   c,
				Rect:  image.Rect(x0, y0, x1, y1),
				Box: orb.Bound{
					Min: orb.Point{west, south},
					Max: orb.Point{east, north},
				},
			})
			idx++
		}
	}
	return specs
}
