package tile

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitScaleFeasible(t *testing.T) {
	tests := []struct {
		w, h, maxTiles int
	}{
		{w: 4000, h: 3000, maxTiles: 12},
		{w: 4000, h: 3000, maxTiles: 1},
		{w: 1, h: 1, maxTiles: 1},
		{w: 123456, h: 7, maxTiles: 10},
		{w: 999, h: 999, maxTiles: 100},
		{w: 10000, h: 10000, maxTiles: 500},
		{w: 500, h: 400, maxTiles: 1000},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%dx%d cap %d", tt.w, tt.h, tt.maxTiles)
		t.Run(name, func(t *testing.T) {
			s := FitScale(tt.w, tt.h, 1000, tt.maxTiles)
			require.Greater(t, s, 0.0)
			require.LessOrEqual(t, s, 1.0)
			require.LessOrEqual(t, tileCount(tt.w, tt.h, 1000, s), tt.maxTiles)
		})
	}
}

func TestFitScaleMonotoneInCap(t *testing.T) {
	prev := 0.0
	for maxTiles := 1; maxTiles <= 64; maxTiles++ {
		s := FitScale(5000, 4000, 1000, maxTiles)
		require.GreaterOrEqual(t, s, prev, "cap %d shrank the scale", maxTiles)
		prev = s
	}
}

func TestFitScaleMaximal(t *testing.T) {
	for _, maxTiles := range []int{1, 3, 7, 12} {
		s := FitScale(4000, 3000, 1000, maxTiles)
		if bumped := s + 1e-6; bumped <= 1 {
			assert.Greater(t, tileCount(4000, 3000, 1000, bumped), maxTiles,
				"cap %d: a larger scale should not also fit", maxTiles)
		}
	}
}

func TestFitScaleCapCoversWholeRaster(t *testing.T) {
	// 4x3 grid at scale 1 is exactly 12 tiles, so no downsampling.
	s := FitScale(4000, 3000, 1000, 12)
	assert.InDelta(t, 1.0, s, 1e-9)
}

func TestGridSize(t *testing.T) {
	tests := []struct {
		w, h, side int
		cols, rows int
	}{
		{w: 4000, h: 3000, side: 1000, cols: 4, rows: 3},
		{w: 4001, h: 3000, side: 1000, cols: 5, rows: 3},
		{w: 1, h: 1, side: 1000, cols: 1, rows: 1},
		{w: 999, h: 1001, side: 1000, cols: 1, rows: 2},
	}
	for _, tt := range tests {
		cols, rows := GridSize(tt.w, tt.h, tt.side)
		assert.Equal(t, [2]int{tt.cols, tt.rows}, [2]int{cols, rows}, "%dx%d / %d", tt.w, tt.h, tt.side)
	}
}

func testBound() orb.Bound {
	return orb.Bound{Min: orb.Point{10, 45}, Max: orb.Point{12, 47}}
}

func TestCutPartitionsImage(t *testing.T) {
	const imgW, imgH = 1000, 700
	specs := Cut(imgW, imgH, 3, 2, testBound())
	require.Len(t, specs, 6)

	// Every pixel is covered exactly once.
	covered := make([]int, imgW*imgH)
	for _, sp := range specs {
		for y := sp.Rect.Min.Y; y < sp.Rect.Max.Y; y++ {
			for x := sp.Rect.Min.X; x < sp.Rect.Max.X; x++ {
				covered[y*imgW+x]++
			}
		}
	}
	for i, n := range covered {
		require.Equal(t, 1, n, "pixel %d covered %d times", i, n)
	}
}

func TestCutGeoBoxes(t *testing.T) {
	box := testBound()
	specs := Cut(1000, 700, 2, 2, box)
	require.Len(t, specs, 4)

	// Row 0 touches the northern edge, the last row the southern one.
	assert.InDelta(t, box.Max[1], specs[0].Box.Max[1], 1e-12)
	assert.InDelta(t, box.Min[1], specs[3].Box.Min[1], 1e-12)

	// Column 0 starts at the west edge, the last column ends east.
	assert.InDelta(t, box.Min[0], specs[0].Box.Min[0], 1e-12)
	assert.InDelta(t, box.Max[0], specs[1].Box.Max[0], 1e-12)

	// Adjacent tiles share edges: no gap, no overlap.
	assert.InDelta(t, specs[0].Box.Max[0], specs[1].Box.Min[0], 1e-12)
	assert.InDelta(t, specs[0].Box.Min[1], specs[2].Box.Max[1], 1e-12)

	// North of a tile is always above its south (the Y flip is easy to
	// get backwards).
	for _, sp := range specs {
		assert.Greater(t, sp.Box.Max[1], sp.Box.Min[1], "tile %d", sp.Index)
	}
}

func TestCutSkipsDegenerateCellsButKeepsIndices(t *testing.T) {
	// ceil(4/3) = 2 px tiles: the third column and row are empty.
	specs := Cut(4, 4, 3, 3, testBound())
	require.Len(t, specs, 4)

	var indices []int
	for _, sp := range specs {
		indices = append(indices, sp.Index)
	}
	// Indices 2, 5, 6, 7, 8 are consumed by empty cells.
	assert.Equal(t, []int{0, 1, 3, 4}, indices)
}

func TestCutSingleTileCoversEverything(t *testing.T) {
	box := testBound()
	specs := Cut(640, 480, 1, 1, box)
	require.Len(t, specs, 1)
	assert.Equal(t, 0, specs[0].Index)
	assert.Equal(t, 640, specs[0].Rect.Dx())
	assert.Equal(t, 480, specs[0].Rect.Dy())
	assert.InDelta(t, box.Min[0], specs[0].Box.Min[0], 1e-12)
	assert.InDelta(t, box.Max[0], specs[0].Box.Max[0], 1e-12)
	assert.InDelta(t, box.Min[1], specs[0].Box.Min[1], 1e-12)
	assert.InDelta(t, box.Max[1], specs[0].Box.Max[1], 1e-12)
}
