// Package export runs the full raster-to-KMZ pipeline: solve the tile
// budget, resample, normalize, cut the grid, enforce per-tile device
// limits and package the result.
package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"runtime"
	"strings"

	"github.com/cartopack/kmztiler/internal/kmz"
	"github.com/cartopack/kmztiler/pkg/raster"
	"github.com/cartopack/kmztiler/pkg/tile"
	"golang.org/x/sync/errgroup"
)

// Garmin's published Custom Map tile caps per device family.
const (
	CapETrex  = 100 // eTrex, Monterra
	CapGPSMAP = 500 // GPSMAP, Montana, Oregon
)

// ResolveCap maps a device selection onto its tile cap. The custom cap
// is only consulted for the "custom" device and must be at least 1.
func ResolveCap(device string, custom int) (int, error) {
	switch strings.ToLower(device) {
	case "etrex":
		return CapETrex, nil
	case "gpsmap":
		return CapGPSMAP, nil
	case "custom":
		if custom < 1 {
			return 0, fmt.Errorf("custom tile cap must be at least 1, got %d", custom)
		}
		return custom, nil
	default:
		return 0, fmt.Errorf("unknown device %q (want etrex, gpsmap or custom)", device)
	}
}

// Options selects what to export and where to.
type Options struct {
	Output  string // destination KMZ path
	Device  string // etrex, gpsmap or custom
	TileCap int    // tile cap when Device is custom
	Name    string // layer name shown on the device
	Workers int    // parallel tile encoders, defaults to GOMAXPROCS
	Limits  tile.Limits
}

// Result summarizes a completed export.
type Result struct {
	Output  string
	Scale   float64
	Width   int // resampled pixel dimensions
	Height  int
	Cols    int
	Rows    int
	Tiles   int // overlays written
	Skipped int // degenerate grid cells
}

// Exporter runs exports. It is stateless apart from its logger and is
// safe for concurrent use.
type Exporter struct {
	logger *log.Logger
}

// New returns an Exporter reporting progress to logger. A nil logger
// silences it.
func New(logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Exporter{logger: logger}
}

// Export runs the pipeline against src and writes the archive to
// opts.Output.
func (e *Exporter) Export(ctx context.Context, src raster.Source, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("no output path given")
	}
	pkg, res, err := e.Build(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if err := pkg.WriteFile(opts.Output); err != nil {
		return nil, fmt.Errorf("write %s: %w", opts.Output, err)
	}
	res.Output = opts.Output
	return res, nil
}

// Build runs the pipeline and returns the assembled package without
// writing it anywhere.
func (e *Exporter) Build(ctx context.Context, src raster.Source, opts Options) (*kmz.Package, *Result, error) {
	tileCap, err := ResolveCap(opts.Device, opts.TileCap)
	if err != nil {
		return nil, nil, err
	}

	width, height := src.Size()
	if width < 1 || height < 1 {
		return nil, nil, fmt.Errorf("empty raster (%dx%d)", width, height)
	}
	box := src.Bounds()
	if box.Max[1] < box.Min[1] || box.Max[0] < box.Min[0] {
		return nil, nil, fmt.Errorf("inverted bounding box")
	}

	limits := opts.Limits
	if limits == (tile.Limits{}) {
		limits = tile.DefaultLimits()
	}
	side := limits.Side()

	scale := tile.FitScale(width, height, side, tileCap)
	outW := max(1, int(math.Round(float64(width)*scale)))
	outH := max(1, int(math.Round(float64(height)*scale)))
	cols, rows := tile.GridSize(outW, outH, side)

	e.logger.Printf("device %s, tile cap %d: %dx%d px resampled to %dx%d px, grid %dx%d = %d tiles",
		opts.Device, tileCap, width, height, outW, outH, cols, rows, cols*rows)

	buf, err := src.Read(outW, outH)
	if err != nil {
		return nil, nil, fmt.Errorf("read raster: %w", err)
	}
	img := raster.Normalize(buf)

	specs := tile.Cut(outW, outH, cols, rows, box)

	// Tiles are independent; encode them in parallel but keep the
	// package in scan order by collecting into an indexed slice.
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	encoded := make([][]byte, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sp := range specs {
		i, sp := i, sp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := limits.Enforce(tile.Crop(img, sp.Rect))
			if err != nil {
				return fmt.Errorf("tile %d: %w", sp.Index, err)
			}
			encoded[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	overlays := make([]kmz.Overlay, len(specs))
	for i, sp := range specs {
		overlays[i] = kmz.Overlay{
			Name: fmt.Sprintf("image_%03d.jpg", sp.Index),
			Box:  sp.Box,
			Data: encoded[i],
		}
	}

	pkg, err := kmz.Build(opts.Name, overlays)
	if err != nil {
		return nil, nil, err
	}

	return pkg, &Result{
		Scale:   scale,
		Width:   outW,
		Height:  outH,
		Cols:    cols,
		Rows:    rows,
		Tiles:   len(overlays),
		Skipped: cols*rows - len(overlays),
	}, nil
}
